package util

import (
	"context"
	"errors"
	"testing"
	"time"

	libconstants "github.com/filswan/go-swan-lib/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorShutdownRunsEveryHandler(t *testing.T) {
	var called []string
	stop := func(name string, err error) StopFunc {
		return func(ctx context.Context) error {
			called = append(called, name)
			return err
		}
	}

	trigger := make(chan struct{})
	done := MonitorShutdown(trigger,
		ShutdownHandler{Component: "api", StopFunc: stop("api", errors.New("boom"))},
		ShutdownHandler{Component: "worker", StopFunc: stop("worker", nil)},
	)
	close(trigger)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	assert.Equal(t, []string{"api", "worker"}, called)
}

func TestServeHttpMissingCertificate(t *testing.T) {
	_, err := ServeHttp(nil, "api", "127.0.0.1:0", "/does/not/exist.crt", "/does/not/exist.key")
	require.Error(t, err)
}

func TestResponses(t *testing.T) {
	ok := CreateSuccessResponse("x")
	assert.Equal(t, libconstants.SWAN_API_STATUS_SUCCESS, ok.Status)
	assert.Equal(t, SuccessCode, ok.Code)

	fail := CreateErrorResponse(UnauthorizedError)
	assert.Equal(t, libconstants.SWAN_API_STATUS_FAIL, fail.Status)
	assert.Equal(t, codeMsg[UnauthorizedError], fail.Message)

	custom := CreateErrorResponse(JsonError, "bad body")
	assert.Equal(t, "bad body", custom.Message)
}
