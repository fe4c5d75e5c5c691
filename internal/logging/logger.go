package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orrn/catspool/internal/config"
)

// New builds the process logger from the logging section of the config.
// "json" writes structured lines, "text" a human console layout and "plain"
// the console layout without timestamps, for journald and similar sinks.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil

	switch cfg.Format {
	case "json", "":
	case "text":
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	case "plain":
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zcfg.EncoderConfig.TimeKey = ""
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
