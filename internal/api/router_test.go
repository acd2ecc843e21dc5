package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/metrics"
	logx "herald/pkg/logx"
)

func newTestRouter(t *testing.T, tokens []string) (*gin.Engine, *TokenSet) {
	t.Helper()
	ts := NewTokenSet(tokens)
	r := NewRouter(RouterOptions{
		Handler: newTestHandler(t, &announcementServiceMock{}),
		Tokens:  ts,
		Metrics: metrics.New(func() int { return 2 }),
		Log:     logx.Nop(),
	})
	return r, ts
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthGate(t *testing.T) {
	r, ts := newTestRouter(t, []string{"secret", " other "})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/guild", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/guild", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/guild", "secret").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/guild", "other").Code)

	// Health and metrics stay public.
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/metrics", "").Code)

	// Hot reload swaps the accepted set.
	ts.Set([]string{"rotated"})
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/guild", "secret").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/guild", "rotated").Code)

	ts.Set(nil)
	assert.True(t, ts.Open())
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/guild", "").Code)
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	r, _ := newTestRouter(t, []string{"secret"})
	req := httptest.NewRequest(http.MethodGet, "/api/guild", nil)
	req.Header.Set("Authorization", "Basic c2VjcmV0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestMetricsRecordRoutes(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	do(r, http.MethodGet, "/api/guild", "")
	do(r, http.MethodGet, "/nope", "")

	body := do(r, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, body, `herald_http_requests_total{method="GET",path="/api/guild",status="200"} 1`)
	assert.Contains(t, body, `path="unmatched"`)
	assert.Contains(t, body, "herald_scheduled_pending 2")
}

func TestRecoveryReturnsEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(logx.Nop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestServerStartStop(t *testing.T) {
	r, ts := newTestRouter(t, nil)
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, r, ts, logx.Nop())
	srv.Start(context.Background())

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), `"status":"ok"`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Stop(ctx)
	assert.Empty(t, srv.Addr())

	_, err = http.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:8080"))
	assert.True(t, isLoopbackAddr("localhost:80"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":8080"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8080"))
}

func TestPprofIsGated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts := NewTokenSet([]string{"secret"})
	r := NewRouter(RouterOptions{
		Handler: newTestHandler(t, &announcementServiceMock{}),
		Tokens:  ts,
		Log:     logx.Nop(),
		Pprof:   true,
	})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/debug/pprof/", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/debug/pprof/", "secret").Code)
	w := do(r, http.MethodGet, "/debug/pprof/goroutine?debug=1", "secret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "goroutine")

	off := NewRouter(RouterOptions{Handler: newTestHandler(t, &announcementServiceMock{}), Tokens: ts})
	assert.Equal(t, http.StatusNotFound, do(off, http.MethodGet, "/debug/pprof/", "secret").Code)
}
