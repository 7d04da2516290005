package main

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/textws/ws/internal/chat"
	"github.com/textws/ws/internal/config"
)

func ProvideConfig() (config.Config, error) {
	return config.Load(os.Args[1:], os.Getenv)
}

func ProvideLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// Sync of stderr fails on some platforms, nothing to do about it.
			logger.Sync()
			return nil
		},
	})
	return logger, nil
}

func ProvideFxLogger(logger *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
}

func ProvideHub(cfg config.Config, logger *zap.Logger) (*chat.Hub, error) {
	return chat.NewHub(chat.HubConfig{OutboxSize: cfg.OutboxSize}, logger.Named("hub"))
}

func ProvideServer(lc fx.Lifecycle, cfg config.Config, hub *chat.Hub, logger *zap.Logger) *chat.Server {
	srv := chat.NewServer(cfg.Addr, cfg.ConnConfig(), hub, logger.Named("server"))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(context.Context) error {
			return srv.Stop()
		},
	})
	return srv
}
