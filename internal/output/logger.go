/*
PURPOSE:
  Provides the structured logger for gpu-stress.
  Wraps zap for consistent, typed log fields.

REQUIREMENTS:
  User-specified:
  - "Sane" CLI output. Not spammy.

  Implementation-discovered:
  - Logs go to stderr so the stdout report stays clean.
  - Level and encoding are chosen from config (console for humans, JSON for
    collection).

ARCHITECTURE INTEGRATION:
  - Used everywhere.

IMPLEMENTATION RULES:
  - Use go.uber.org/zap with typed fields.

USAGE:
  output.Logger.Info("message", zap.String("key", "value"))
*/

package output

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

func init() {
	l, err := NewLogger("info", false)
	if err != nil {
		l = zap.NewNop()
	}
	Logger = l
}

// SetLogger allows overriding the default logger (e.g. for testing or config changes)
func SetLogger(l *zap.Logger) {
	Logger = l
}

// NewLogger builds a stderr logger at the given level.
func NewLogger(level string, json bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	} else {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}
