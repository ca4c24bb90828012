// Package httpapi implements the router's operator-facing REST surface,
// per spec §6.
package httpapi

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewEngine builds the gin engine serving the operator API, grounded on
// cmd/start.go's setupRouter: gin.New() plus the same ginzap request-log
// and panic-recovery middleware stack, in release mode unless debug is
// set.
func NewEngine(core Core, log *zap.Logger, debug bool) *gin.Engine {
	gin.DisableConsoleColor()
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(ginzap.Ginzap(log, time.RFC3339, true))
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))
	r.Use(ginzap.RecoveryWithZap(log, true))

	registerRoutes(r, core)
	return r
}
