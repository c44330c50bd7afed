package main

import (
	"github.com/ozonworks/outlet-telemetry-worker/internal/config"
	"github.com/ozonworks/outlet-telemetry-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
