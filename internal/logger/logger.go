package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new zap.Logger instance based on the provided
// configuration. An empty level defaults to info.
func NewLogger(level string, format string) (*zap.Logger, error) {
	logLevel := zapcore.InfoLevel
	if level != "" {
		var err error
		logLevel, err = zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
	}

	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(logLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
