// Package logger builds the zap loggers used across flipcoin services.
package logger

import (
	"fmt"

	gnarklog "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// New returns a logger tagged with service and env. The local env gets the development encoder.
func New(service, env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(
		zap.Fields(
			zap.String("service", service),
			zap.String("env", env),
		),
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// BridgeCircuitLogs routes gnark's zerolog output (compile and prove timings) through l.
// A nil logger silences gnark.
func BridgeCircuitLogs(l *zap.Logger) {
	if l == nil {
		gnarklog.Disable()
		return
	}
	w := &zapio.Writer{Log: l.Named("gnark"), Level: zapcore.DebugLevel}
	gnarklog.Set(zerolog.New(w).With().Timestamp().Logger())
}
