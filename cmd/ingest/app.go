package main

import (
	"context"

	"market_ingest/internal/modules/companies"
	"market_ingest/internal/modules/config"
	"market_ingest/internal/modules/governor"
	"market_ingest/internal/modules/postgres"
	"market_ingest/internal/modules/sentiment"
	"market_ingest/internal/modules/sources"
	"market_ingest/internal/modules/sqlite"
	"market_ingest/internal/modules/storage"
	"market_ingest/internal/modules/watermark"
	"market_ingest/internal/notify"
	"market_ingest/internal/runner"
	"market_ingest/pkg/logger"
	"market_ingest/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// modules is the full ingestion graph minus the root context.
func modules() fx.Option {
	return fx.Options(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			newLogger,
			newTracer,
		),
		config.Module(),
		postgres.Module(),
		sqlite.Module(),
		companies.Module(),
		governor.Module(),
		sources.Module(),
		sentiment.Module(),
		storage.Module(),
		watermark.Module(),
		notify.Module(),
		runner.Module(),
		fx.Invoke(func(opentracing.Tracer) {}),
	)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(cfg.ServiceName)
	return logger.New(cfg.Log)
}

func newTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	tracing.SetServiceName(cfg.ServiceName)
	tracer, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Debug("flushing tracer")
			return closer.Close()
		},
	})
	return tracer, nil
}
