// Package logger builds Sentinel's operator console loggers.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Sentinel is a terminal tool, so console
// lines are the default; "json" switches to machine-scraped output.
// Unknown levels fall back to info. Construction cannot fail: a proxy
// that cannot log still has to forward bytes.
func New(level, format string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var enc zapcore.Encoder
	if format == "json" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl)
	return zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr)))
}

// NewQuiet is for the read-only CLI commands (logs, agents, resume):
// errors only, so store noise never interleaves with table output.
func NewQuiet() *zap.Logger {
	return New("error", "console")
}
