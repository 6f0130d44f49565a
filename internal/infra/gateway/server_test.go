package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesmcp/internal/domain"
)

func TestHTTPServer_ServeAndShutdown(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeShared})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}

	srv := NewHTTPServer(domain.HTTPConfig{ShutdownTimeout: time.Second}, h.dispatcher, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + domain.DefaultHTTPPath
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusMethodNotAllowed
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTPServer_RunReportsListenError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}
	defer listener.Close()

	h := newHarness(t, harnessOptions{mode: domain.ModeShared})
	srv := NewHTTPServer(domain.HTTPConfig{Addr: listener.Addr().String()}, h.dispatcher, nil)
	err = srv.Run(context.Background())
	require.Error(t, err)
}

func TestHTTPServer_OtherPathsNotFound(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: domain.ModeShared})
	srv := NewHTTPServer(domain.HTTPConfig{Path: "/mcp"}, h.dispatcher, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		rpc    int64
		code   domain.ErrorCode
	}{
		{domain.E(domain.CodeInvalidArgument, "op", "bad", nil), http.StatusBadRequest, -32600, domain.CodeInvalidArgument},
		{domain.ErrSessionNotFound, http.StatusNotFound, -32000, domain.CodeNotFound},
		{domain.E(domain.CodePayloadTooLarge, "op", "big", nil), http.StatusRequestEntityTooLarge, -32600, domain.CodePayloadTooLarge},
		{domain.ErrSessionClosed, http.StatusServiceUnavailable, -32000, domain.CodeUnavailable},
		{domain.E(domain.CodeMethodNotAllowed, "op", "no PUT", domain.ErrMethodNotAllowed), http.StatusMethodNotAllowed, -32000, domain.CodeMethodNotAllowed},
		{errors.New("plain"), http.StatusInternalServerError, -32603, domain.CodeInternal},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		status := writeError(rec, tc.err)
		assert.Equal(t, tc.status, status, "%v", tc.err)
		assert.Equal(t, tc.status, rec.Code)

		resp := rec.Result()
		env := decodeError(t, resp)
		assert.Equal(t, tc.rpc, env.Error.Code, "%v", tc.err)
		assert.Equal(t, tc.code, env.Error.Data.Code)
	}
}
