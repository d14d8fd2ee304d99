package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production JSON logger at the given level. Unknown level
// names fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	return buildConfig(level).Build()
}

// NewFileLogger writes JSON logs to the given path in addition to stderr.
func NewFileLogger(level, path string) (*zap.Logger, error) {
	cfg := buildConfig(level)
	cfg.OutputPaths = []string{"stderr", path}
	return cfg.Build()
}

func buildConfig(level string) zap.Config {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(l)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
