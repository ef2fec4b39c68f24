// Package logging builds the zap logger shared by the server and the run workers.
package logging

import (
	"go.uber.org/zap"
)

// NewLogger returns a production JSON logger, or a development logger when
// level is "debug" or "trace". The caller should defer Sync.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" || level == "trace" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil && level != "" {
		cfg.Level = lvl
	}
	return cfg.Build()
}
