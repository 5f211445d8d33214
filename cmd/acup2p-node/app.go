package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/observability"
)

// loadRuntime loads the config and installs the process logger.
func loadRuntime(opts Options) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	logger.Info("acup2p-node started",
		zap.Strings("message_protocols", cfg.MessageProtocols),
		zap.Strings("stream_protocols", cfg.StreamProtocols))
	logger.Debug("effective configuration", zap.Any("config", cfg))
	return cfg, logger, nil
}
