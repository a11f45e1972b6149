// Package logging constructs the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given LOG_FORMAT value: "text" (the default)
// uses zap's human-readable console encoder, "json" the production JSON
// encoder with ISO8601 timestamps.
func New(format string) (*zap.Logger, error) {
	var cfg zap.Config

	switch format {
	case "", "text":
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "console"
	case "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q (want \"text\" or \"json\")", format)
	}

	return cfg.Build()
}
