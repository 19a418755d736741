// File: internal/logging/logging.go
// Brief: Shared zap logger construction for the CLI.

package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a --log-level flag value onto a zap level.
func ParseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", raw)
	}
}

// New builds a console-encoded logger writing to stderr. Verbose forces the
// debug level regardless of the configured one.
func New(level zapcore.Level, verbose bool) (*zap.Logger, error) {
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and optional
// call sites.
func Nop() *zap.Logger {
	return zap.NewNop()
}
