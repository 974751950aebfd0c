package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/lagrangedao/go-tee-worker/internal/chain"
	"github.com/lagrangedao/go-tee-worker/internal/exitcause"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/lagrangedao/go-tee-worker/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taskId = "0x1111111111111111111111111111111111111111111111111111111111111111"

type fakeAuthorizations map[string]*models.WorkerpoolAuthorization

func (f fakeAuthorizations) GetAuthorization(chainTaskId string) (*models.WorkerpoolAuthorization, bool) {
	auth, ok := f[chainTaskId]
	return auth, ok
}

type fakeComputedStore struct {
	saved map[string]*models.ComputedFile
	err   error
}

func (f *fakeComputedStore) SaveComputedFile(chainTaskId string, cf *models.ComputedFile) error {
	if f.err != nil {
		return f.err
	}
	f.saved[chainTaskId] = cf
	return nil
}

type fakeTasks []models.TaskSummary

func (f fakeTasks) Tasks() []models.TaskSummary {
	return f
}

type testServer struct {
	router     *gin.Engine
	exitCauses *exitcause.Registry
	computed   *fakeComputedStore
	signature  string
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth := &models.WorkerpoolAuthorization{
		WorkerWallet:     "0x2222222222222222222222222222222222222222",
		ChainTaskId:      taskId,
		EnclaveChallenge: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
	signature, err := chain.SignMessageHash(key, chain.AuthorizationHash(auth))
	require.NoError(t, err)

	ts := &testServer{
		exitCauses: exitcause.NewRegistry(),
		computed:   &fakeComputedStore{saved: map[string]*models.ComputedFile{}},
		signature:  signature,
	}
	tasks := fakeTasks{{ChainTaskId: taskId, LastNotification: models.PleaseCompute, LastStatus: models.ReplicateDataDownloaded, UpdatedAt: time.Now()}}
	server := NewServer(fakeAuthorizations{taskId: auth}, ts.exitCauses, ts.computed, tasks)
	ts.router = NewRouter(server)
	return ts
}

func (ts *testServer) do(method, path, signature string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Authorization", signature)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestSendExitCauses(t *testing.T) {
	ts := newTestServer(t)
	path := "/compute/pre/" + taskId + "/exit"

	w := ts.do(http.MethodPost, path, ts.signature, map[string]any{"cause": models.CausePreComputeDatasetUrlMissing})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, path, ts.signature, map[string]any{"cause": models.CausePreComputeFailedUnknownIssue})
	assert.Equal(t, http.StatusConflict, w.Code)

	causes := ts.exitCauses.ConsumeExitCauses(models.PreComputeStage, taskId, models.CausePreComputeFailedUnknownIssue)
	assert.Equal(t, []models.ReplicateStatusCause{models.CausePreComputeDatasetUrlMissing}, causes)
}

func TestSendExitCausesList(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"causes": []models.ReplicateStatusCause{models.CausePostComputeExitReportingFailed, models.CausePostComputeFailedUnknownIssue}}

	w := ts.do(http.MethodPost, "/compute/post/"+taskId+"/exit", ts.signature, body)
	require.Equal(t, http.StatusOK, w.Code)

	causes := ts.exitCauses.ConsumeExitCauses(models.PostComputeStage, taskId, models.CausePostComputeFailedUnknownIssue)
	assert.Len(t, causes, 2)
}

func TestSendExitCausesRejected(t *testing.T) {
	ts := newTestServer(t)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged, err := chain.SignMessageHash(other, chain.AuthorizationHash(&models.WorkerpoolAuthorization{ChainTaskId: taskId}))
	require.NoError(t, err)
	cause := map[string]any{"cause": models.CausePreComputeFailedUnknownIssue}

	tests := []struct {
		name      string
		path      string
		signature string
		body      any
		code      int
	}{
		{"missing signature", "/compute/pre/" + taskId + "/exit", "", cause, http.StatusUnauthorized},
		{"forged signature", "/compute/pre/" + taskId + "/exit", forged, cause, http.StatusUnauthorized},
		{"unknown task", "/compute/pre/0xabc/exit", ts.signature, cause, http.StatusUnauthorized},
		{"app stage", "/compute/app/" + taskId + "/exit", ts.signature, cause, http.StatusNotFound},
		{"empty causes", "/compute/pre/" + taskId + "/exit", ts.signature, map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, tt.path, tt.signature, tt.body)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestSendComputedFile(t *testing.T) {
	ts := newTestServer(t)
	path := "/compute/post/" + taskId + "/computed"

	w := ts.do(http.MethodPost, path, ts.signature, models.ComputedFile{ResultDigest: "0xabcd", EnclaveSignature: "0xsig"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, ts.computed.saved, taskId)
	assert.Equal(t, taskId, ts.computed.saved[taskId].TaskId)
	assert.Equal(t, "0xabcd", ts.computed.saved[taskId].ResultDigest)

	w = ts.do(http.MethodPost, path, ts.signature, models.ComputedFile{TaskId: "0xother"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, path, "", models.ComputedFile{ResultDigest: "0xabcd"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ts.computed.err = errors.New("disk full")
	w = ts.do(http.MethodPost, path, ts.signature, models.ComputedFile{ResultDigest: "0xabcd"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListTasksAndVersion(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/tasks", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		util.BasicResponse
		Data []models.TaskSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, taskId, resp.Data[0].ChainTaskId)
	assert.Equal(t, models.ReplicateDataDownloaded, resp.Data[0].LastStatus)

	w = ts.do(http.MethodGet, "/version", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "version")

	w = ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
