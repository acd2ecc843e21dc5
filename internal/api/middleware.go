package api

import (
	"crypto/subtle"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"herald/pkg/apperr"
	logx "herald/pkg/logx"
)

// TokenSet holds the accepted bearer tokens. It is swapped on config reload.
type TokenSet struct {
	v atomic.Pointer[[]string]
}

func NewTokenSet(tokens []string) *TokenSet {
	ts := &TokenSet{}
	ts.Set(tokens)
	return ts
}

func (ts *TokenSet) Set(tokens []string) {
	clean := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	ts.v.Store(&clean)
}

// Open reports whether no tokens are configured.
func (ts *TokenSet) Open() bool {
	p := ts.v.Load()
	return p == nil || len(*p) == 0
}

// Match compares tok against every configured token in constant time.
func (ts *TokenSet) Match(tok string) bool {
	p := ts.v.Load()
	if p == nil {
		return false
	}
	ok := 0
	for _, want := range *p {
		ok |= subtle.ConstantTimeCompare([]byte(tok), []byte(want))
	}
	return ok == 1
}

// Auth requires "Authorization: Bearer <token>" unless the set is open.
func Auth(tokens *TokenSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil || tokens.Open() {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Header("WWW-Authenticate", "Bearer")
			Error(c, apperr.ErrUnauthorized)
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.Header("WWW-Authenticate", "Bearer")
			Error(c, apperr.Clone(apperr.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}
		if !tokens.Match(strings.TrimSpace(parts[1])) {
			c.Header("WWW-Authenticate", "Bearer")
			Error(c, apperr.Clone(apperr.ErrUnauthorized, "invalid token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

type requestObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Metrics captures request metrics.
func Metrics(m requestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			// Unmatched routes share one label.
			path = "unmatched"
		}
		m.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// RequestLog logs one line per request; server errors at WARN.
func RequestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
			logx.String("remote", c.ClientIP()),
		}
		switch {
		case status >= 500:
			log.Warn("http request", fields...)
		case status >= 400:
			log.Info("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}

// Recovery turns handler panics into a 500 envelope.
func Recovery(log logx.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		log.Error("http handler panicked",
			logx.String("path", c.Request.URL.Path),
			logx.String("panic", fmt.Sprint(rec)),
			logx.Stack(string(debug.Stack())),
		)
		Error(c, apperr.ErrInternal)
		c.Abort()
	})
}
