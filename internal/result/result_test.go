package result

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lagrangedao/go-tee-worker/constants"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helloSha256      = "0x2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	helloWorldDigest = "0x7305db9b2abccd706c256db3d97e5ff48d677cfe4d3a5904afb7da0e3950e1e2"
)

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestComputeWeb3ResultDigest(t *testing.T) {
	assert.Equal(t, "0xb10e2d527612073b26eecdfd717e6a320cf44b4afac2b0732d9fcbe2b7fa0cf6",
		ComputeWeb3ResultDigest("0x0000000000000000000000000000000000000000000000000000000000000001"))
	assert.Empty(t, ComputeWeb3ResultDigest(""))
}

func TestComputeWeb2ResultDigest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello")

	digest, err := ComputeWeb2ResultDigest(dir)
	require.NoError(t, err)
	assert.Equal(t, helloSha256, digest)

	digest, err = ComputeWeb2ResultDigest(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, helloSha256, digest)

	writeFile(t, filepath.Join(dir, "b.txt"), "world")
	writeFile(t, filepath.Join(dir, constants.COMPUTED_FILE), `{"task-id":"0x1"}`)
	digest, err = ComputeWeb2ResultDigest(dir)
	require.NoError(t, err)
	assert.Equal(t, helloWorldDigest, digest)
}

func TestComputeWeb2ResultDigestEmptyDir(t *testing.T) {
	digest, err := ComputeWeb2ResultDigest(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, digest)
}

func TestCheckResultFileNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "result.txt"), "ok")
	assert.NoError(t, CheckResultFileNames(dir))

	writeFile(t, filepath.Join(dir, strings.Repeat("x", constants.MAX_RESULT_FILE_NAME_LENGTH+1)), "too long")
	assert.ErrorIs(t, CheckResultFileNames(dir), ErrResultFileNameTooLong)
}

func TestZipDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "iexec_out")
	writeFile(t, filepath.Join(src, "a.txt"), "hello")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "world")

	zipPath := filepath.Join(dir, "out.zip")
	require.NoError(t, ZipDir(src, zipPath))

	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "sub/b.txt"}, names)
}

func TestComputedFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cf, err := ReadComputedFile(dir)
	require.NoError(t, err)
	assert.Nil(t, cf)

	require.NoError(t, WriteComputedFile(dir, &models.ComputedFile{TaskId: "0x1", ResultDigest: "0xab"}))
	cf, err = ReadComputedFile(dir)
	require.NoError(t, err)
	assert.Equal(t, "0xab", cf.ResultDigest)
}

type staticSigner string

func (s staticSigner) SignMessage(ctx context.Context, msg []byte) (string, error) {
	return string(s) + ":" + string(msg), nil
}

func TestProxyClientUpload(t *testing.T) {
	logins := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/results/challenge":
			assert.Equal(t, "134", r.URL.Query().Get("chainId"))
			_, _ = io.WriteString(w, "challenge-1")
		case r.Method == http.MethodPost && r.URL.Path == "/results/login":
			logins++
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "sig:challenge-1", string(body))
			_, _ = io.WriteString(w, "token-1")
		case r.Method == http.MethodPost && r.URL.Path == "/results":
			assert.Equal(t, "token-1", r.Header.Get("Authorization"))
			var payload ResultModel
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "0xtask", payload.ChainTaskId)
			assert.Equal(t, []byte("zip-bytes"), payload.Zip)
			_, _ = io.WriteString(w, "https://results/0xtask")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	zipPath := filepath.Join(t.TempDir(), "r.zip")
	writeFile(t, zipPath, "zip-bytes")

	p := NewProxyClient(srv.URL, 134, staticSigner("sig"))
	link, err := p.Upload(context.Background(), "0xtask", "0xdigest", zipPath)
	require.NoError(t, err)
	assert.Equal(t, "https://results/0xtask", link)

	_, err = p.Upload(context.Background(), "0xtask", "0xdigest", zipPath)
	require.NoError(t, err)
	assert.Equal(t, 1, logins)
}

type recordingUploader struct {
	calls int
}

func (r *recordingUploader) Upload(ctx context.Context, chainTaskId, resultDigest, zipPath string) (string, error) {
	r.calls++
	return "link://" + chainTaskId, nil
}

func TestServiceUploadPolicy(t *testing.T) {
	uploader := &recordingUploader{}
	s := NewService(t.TempDir(), "https://proxy/", uploader)

	id := "0xtask"
	require.NoError(t, s.PrepareTaskDirs(id))
	require.NoError(t, s.SaveComputedFile(id, &models.ComputedFile{CallbackData: "0x01", ResultDigest: "0xd"}))

	details, err := s.UploadResult(context.Background(), &models.TaskDescription{ChainTaskId: id, Callback: "0x0000000000000000000000000000000000000009"})
	require.NoError(t, err)
	assert.Equal(t, "0x01", details.ChainCallbackData)
	assert.Empty(t, details.ResultLink)

	details, err = s.UploadResult(context.Background(), &models.TaskDescription{ChainTaskId: id, IsTeeTask: true})
	require.NoError(t, err)
	assert.Equal(t, "https://proxy/results/0xtask", details.ResultLink)
	assert.Equal(t, 0, uploader.calls)

	details, err = s.UploadResult(context.Background(), &models.TaskDescription{ChainTaskId: id})
	require.NoError(t, err)
	assert.Equal(t, "link://0xtask", details.ResultLink)
	assert.Equal(t, 1, uploader.calls)

	_, err = s.UploadResult(context.Background(), &models.TaskDescription{ChainTaskId: "0xother"})
	assert.ErrorIs(t, err, ErrComputedFileNotFound)
}

func TestServiceComputedFileFromDisk(t *testing.T) {
	base := t.TempDir()
	s := NewService(base, "", nil)
	id := "0xtask"
	require.NoError(t, WriteComputedFile(s.IexecOutDir(id), &models.ComputedFile{TaskId: id, ResultDigest: "0xabc"}))

	digest, ok := s.GetResultDigest(id)
	require.True(t, ok)
	assert.Equal(t, "0xabc", digest)

	s.Purge(id)
	require.NoError(t, s.RemoveTaskDir(id))
	_, ok = s.GetResultDigest(id)
	assert.False(t, ok)
}

func TestServiceComputeResultDigest(t *testing.T) {
	s := NewService(t.TempDir(), "", nil)
	id := "0xtask"
	writeFile(t, filepath.Join(s.IexecOutDir(id), "a.txt"), "hello")

	digest, err := s.ComputeResultDigest(&models.TaskDescription{ChainTaskId: id}, &models.ComputedFile{})
	require.NoError(t, err)
	assert.Equal(t, helloSha256, digest)

	digest, err = s.ComputeResultDigest(&models.TaskDescription{ChainTaskId: id}, &models.ComputedFile{DeterministicOutputPath: "/iexec_out/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, helloSha256, digest)

	_, err = s.ComputeResultDigest(&models.TaskDescription{ChainTaskId: id, Callback: "0x0000000000000000000000000000000000000009"}, &models.ComputedFile{})
	assert.ErrorIs(t, err, ErrEmptyResultDigest)
}

func TestIpfsLinkFromPayloadCid(t *testing.T) {
	link, err := ipfsLink("https://abc.acl.swanipfs.com/", "bafybeigdyrzt5")
	require.NoError(t, err)
	assert.Equal(t, "https://abc.acl.swanipfs.com/ipfs/bafybeigdyrzt5", link)

	_, err = ipfsLink("https://abc.acl.swanipfs.com", "")
	assert.Error(t, err)
}
