package sentiment

import (
	"market_ingest/internal/modules/config"
	governor "market_ingest/internal/modules/governor/service"
	"market_ingest/internal/modules/sentiment/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("sentiment",
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger) service.Classifier {
				return service.NewChat(service.ChatConfig{
					BaseURL:        cfg.Sentiment.BaseURL,
					APIKey:         cfg.Sentiment.APIKey,
					Model:          cfg.Sentiment.Model,
					RequestTimeout: cfg.Sentiment.RequestTimeout,
				}, log)
			},
			func(cfg *config.Config, cls service.Classifier, gov *governor.Governor, log *zap.Logger) *service.Enricher {
				return service.NewEnricher(cls, gov, service.EnricherConfig{
					MaxRetries:   cfg.Sentiment.MaxRetries,
					RetryBackoff: cfg.Sentiment.RetryBackoff,
				}, log)
			},
		),
	)
}
