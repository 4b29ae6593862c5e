// Package logging builds the service's zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/gelf"
)

const serviceName = "fravik"

// New returns a logger for cfg and a function that releases its resources.
// When a GELF address is configured every entry is also shipped over UDP;
// failing to set that up only produces a warning.
func New(cfg config.LoggingConfig) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging level: %w", err)
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	logger = logger.With(zap.String("service", serviceName))
	cleanup := func() { _ = logger.Sync() }

	if cfg.GelfAddr == "" {
		return logger, cleanup, nil
	}

	w, err := gelf.New(cfg.GelfAddr, serviceName)
	if err != nil {
		logger.Warn("GELF init failed", zap.String("addr", cfg.GelfAddr), zap.Error(err))
		return logger, cleanup, nil
	}
	gelfCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), w, zcfg.Level)
	logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, gelfCore)
	}))
	logger.Info("GELF logging enabled", zap.String("addr", cfg.GelfAddr))

	return logger, func() {
		_ = logger.Sync()
		w.Close()
	}, nil
}
