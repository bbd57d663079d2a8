// Package logging builds the zap logger used by the command line tools.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lherman-cs/bagextract/internal/config"
)

// NewConfig returns the zap config for cfg. Logs go to stderr, stdout is left to the
// tools' own output.
func NewConfig(cfg config.LoggingConfig) (zap.Config, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return zap.Config{}, errors.Wrapf(err, "log level %q", cfg.Level)
	}

	encodeLevel := zapcore.CapitalColorLevelEncoder
	if cfg.Format == "json" {
		encodeLevel = zapcore.LowercaseLevelEncoder
	}

	return zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: cfg.Format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}, nil
}

func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapConfig, err := NewConfig(cfg)
	if err != nil {
		return nil, err
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return logger, nil
}
