// Package observability bootstraps the process-wide structured logger.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It is a no-op until Init runs, so
// library code can log unconditionally.
var Logger = zap.NewNop()

// Init builds the logger at the given level ("debug", "info", "warn",
// "error"). Production encoding; debug level switches to development
// encoding for readable local output.
func Init(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	Logger = logger
	return nil
}

// Sync flushes buffered log entries. Safe to call on the no-op logger.
func Sync() {
	_ = Logger.Sync()
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}
