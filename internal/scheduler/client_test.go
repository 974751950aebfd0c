package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wallet = "0x1a69b2eb604db8eba185df03ea4f5288dcbbd248"

type fakeSigner struct{}

func (fakeSigner) SignMessage(ctx context.Context, msg []byte) (string, error) {
	return "signed:" + string(msg), nil
}

type fakeScheduler struct {
	logins   atomic.Int32
	reports  atomic.Int32
	token     string
	lastBody  []byte
	available string
}

func (s *fakeScheduler) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/workers/challenge", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wallet, r.URL.Query().Get("walletAddress"))
		_, _ = w.Write([]byte(`"challenge-1"`))
	})
	mux.HandleFunc("/workers/login", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "signed:challenge-1", string(body))
		s.logins.Add(1)
		_, _ = w.Write([]byte(s.token))
	})
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+s.token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/workers/ping", auth(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("session-42"))
	}))
	mux.HandleFunc("/workers/register", auth(func(w http.ResponseWriter, r *http.Request) {
		s.lastBody, _ = io.ReadAll(r.Body)
	}))
	mux.HandleFunc("/replicates/0xabc/updateStatus", auth(func(w http.ResponseWriter, r *http.Request) {
		s.reports.Add(1)
		s.lastBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`"PLEASE_DOWNLOAD_APP"`))
	}))
	mux.HandleFunc("/replicates/interrupted", auth(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12", r.URL.Query().Get("blockNumber"))
		_ = json.NewEncoder(w).Encode([]models.TaskNotification{{ChainTaskId: "0xabc", Type: models.PleaseCompute}})
	}))
	mux.HandleFunc("/replicates/available", auth(func(w http.ResponseWriter, r *http.Request) {
		if s.available == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(s.available))
	}))
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeScheduler) {
	s := &fakeScheduler{token: "jwt-1"}
	srv := httptest.NewServer(s.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, wallet, fakeSigner{}, 5*time.Second), s
}

func TestLoginAndPing(t *testing.T) {
	c, s := newTestClient(t)
	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, "jwt-1", c.Token())

	sessionId, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-42", sessionId)
	assert.Equal(t, int32(1), s.logins.Load())
}

func TestUnauthorizedTriggersSingleLogin(t *testing.T) {
	c, s := newTestClient(t)
	// no token yet: the first call is rejected, then login, then retried
	_, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), s.logins.Load())
}

func TestRegister(t *testing.T) {
	c, s := newTestClient(t)
	require.NoError(t, c.Login(context.Background()))
	require.NoError(t, c.Register(context.Background(), models.WorkerModel{Name: "w1", WalletAddress: wallet, TeeEnabled: true}))

	var got models.WorkerModel
	require.NoError(t, json.Unmarshal(s.lastBody, &got))
	assert.Equal(t, "w1", got.Name)
	assert.True(t, got.TeeEnabled)
}

func TestReportStatus(t *testing.T) {
	c, s := newTestClient(t)
	require.NoError(t, c.Login(context.Background()))

	update := models.NewStatusUpdate(models.ReplicateStarted, nil)
	next, err := c.ReportStatus(context.Background(), "0xabc", update)
	require.NoError(t, err)
	assert.Equal(t, models.PleaseDownloadApp, next)
	assert.Equal(t, int32(1), s.reports.Load())

	var got models.ReplicateStatusUpdate
	require.NoError(t, json.Unmarshal(s.lastBody, &got))
	assert.Equal(t, models.ReplicateStarted, got.Status)
}

func TestReportStatusTransportErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, wallet, fakeSigner{}, time.Second)
	_, err := c.ReportStatus(context.Background(), "0xabc", models.NewStatusUpdate(models.ReplicateComputed, nil))
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetMissedNotifications(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Login(context.Background()))

	notifications, err := c.GetMissedNotifications(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.PleaseCompute, notifications[0].Type)
}

func TestGetAvailableReplicateNone(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Login(context.Background()))

	summary, err := c.GetAvailableReplicate(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestGetAvailableReplicate(t *testing.T) {
	c, s := newTestClient(t)
	s.available = `{"workerpoolAuthorization":{"workerWallet":"` + wallet + `","chainTaskId":"0xabc","enclaveChallenge":"0x33","signature":"0xsig"},"smsUrl":"http://sms:13300"}`
	require.NoError(t, c.Login(context.Background()))

	summary, err := c.GetAvailableReplicate(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "0xabc", summary.WorkerpoolAuthorization.ChainTaskId)
	assert.Equal(t, "0x33", summary.WorkerpoolAuthorization.EnclaveChallenge)
	assert.Equal(t, "http://sms:13300", summary.SmsUrl)
}
