package diag

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "pushgw/pkg/logx"
)

func TestHandlerRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "m 1\n") })
	s := New(Config{}, logx.Nop(),
		WithMetrics(metrics),
		WithHealth(func(context.Context) (any, bool) { return map[string]string{"state": "degraded"}, false }),
	)

	h := s.Handler(Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m 1\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "pprof is off unless enabled")

	rec = httptest.NewRecorder()
	s.Handler(Config{Pprof: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerToken(t *testing.T) {
	s := New(Config{}, logx.Nop())
	h := s.Handler(Config{Token: "s3cret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=nope", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=s3cret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	assert.Nil(t, s.Supervisor())
	assert.Empty(t, s.Addr())

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Nil(t, s.Supervisor())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		sup := s.Supervisor()
		return sup != nil && sup.Err() != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, IsLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, IsLoopbackAddr("localhost:1"))
	assert.True(t, IsLoopbackAddr("[::1]:1"))
	assert.False(t, IsLoopbackAddr(":9464"))
	assert.False(t, IsLoopbackAddr("10.0.0.1:9464"))
	assert.False(t, IsLoopbackAddr("garbage"))
}
