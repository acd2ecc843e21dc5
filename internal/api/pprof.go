package api

import (
	hpprof "net/http/pprof"

	"github.com/gin-gonic/gin"
)

const pprofPrefix = "/debug/pprof"

// registerPprof mounts the runtime profiles behind the bearer gate.
func registerPprof(r *gin.Engine, tokens *TokenSet) {
	g := r.Group(pprofPrefix, Auth(tokens))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	// Index also serves named profiles (heap, goroutine, ...) by path suffix.
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/:profile", gin.WrapF(hpprof.Index))
}
