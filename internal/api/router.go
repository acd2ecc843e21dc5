package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	logx "herald/pkg/logx"
)

// RouterOptions wires the HTTP surface.
type RouterOptions struct {
	Handler *Handler
	Tokens  *TokenSet
	Metrics interface {
		requestObserver
		Handler() http.Handler
	}
	Log   logx.Logger
	// Pprof mounts /debug/pprof behind the bearer gate.
	Pprof bool
}

// NewRouter builds the gin engine. /healthz and /metrics stay outside the
// bearer gate.
func NewRouter(opts RouterOptions) *gin.Engine {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	r := gin.New()
	r.Use(Recovery(opts.Log), RequestLog(opts.Log))
	if opts.Metrics != nil {
		r.Use(Metrics(opts.Metrics))
	}
	r.HandleMethodNotAllowed = true

	h := opts.Handler
	r.GET("/healthz", h.Health)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	api := r.Group("/api", Auth(opts.Tokens))
	api.POST("/announcements", h.Create)
	api.GET("/announcements", h.List)
	api.GET("/announcements/:id", h.Get)
	api.POST("/announcements/:id/cancel", h.Cancel)
	api.GET("/guild", h.Guild)

	if opts.Pprof {
		registerPprof(r, opts.Tokens)
	}
	return r
}
