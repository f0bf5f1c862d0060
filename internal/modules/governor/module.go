package governor

import (
	"market_ingest/internal/modules/config"
	"market_ingest/internal/modules/governor/service"
	sentiment "market_ingest/internal/modules/sentiment/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("governor",
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger) *service.Governor {
				return service.New(FromConfig(cfg), log)
			},
		),
	)
}

func FromConfig(cfg *config.Config) service.Config {
	budget := func(r config.RateLimit) service.Budget {
		return service.Budget{Calls: r.Calls, Window: r.Window}
	}
	return service.Config{
		Default: budget(cfg.Governor.Default),
		Budgets: map[string]service.Budget{
			cfg.News.Provider:   budget(cfg.News.RateLimit),
			cfg.Market.Provider: budget(cfg.Market.RateLimit),
			sentiment.Provider:  budget(cfg.Sentiment.RateLimit),
		},
		MaxRateLimitRetries: cfg.Governor.MaxRateLimitRetries,
	}
}
