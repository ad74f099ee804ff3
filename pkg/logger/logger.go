// Package logger builds the daemon's zap logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production logger, or a development one when env is "local".
// service and env are attached to every entry.
func New(service string, env string) (*zap.Logger, error) {
	return WithLevel(service, env, "")
}

// WithLevel is New with the minimum level overridden. An empty or
// unparseable level keeps the default.
func WithLevel(service, env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level != "" {
		if lvl, err := zap.ParseAtomicLevel(level); err == nil {
			cfg.Level = lvl
		}
	}

	return cfg.Build(
		zap.Fields(
			zap.String("service", service),
			zap.String("env", env),
		),
	)
}
