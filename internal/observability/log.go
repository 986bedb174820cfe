// Package observability wires up the logger and metrics every
// background loop and request handler in this module reports through —
// never log.Printf or fmt.Print* (spec.md §2 ambient stack).
package observability

import "go.uber.org/zap"

// NewLogger builds the process-wide structured logger from zap's
// production config. debug lowers the level so Debug-level records are
// emitted; Info and above always are.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}
