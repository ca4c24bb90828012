// Package panics implements the router's "stop_minded" policy: whether a
// broken programmer invariant should crash the process or just be logged.
package panics

import (
	"os"

	"go.uber.org/zap"
)

// Policy decides what happens when an invariant that should never be
// violated is violated anyway.
type Policy struct {
	// StopMinded, when true, exits the process on Invariant(). When false
	// the violation is logged and execution continues.
	StopMinded bool

	Log *zap.Logger
}

// Invariant reports a broken programmer invariant. cond is the condition
// that was expected to hold; msg describes what broke.
func (p Policy) Invariant(cond bool, msg string, fields ...zap.Field) {
	if cond {
		return
	}

	p.Log.Error("invariant violated: "+msg, fields...)

	if p.StopMinded {
		os.Exit(1)
	}
}
