package runner

import (
	companies "market_ingest/internal/modules/companies/service"
	"market_ingest/internal/modules/config"
	sentiment "market_ingest/internal/modules/sentiment/service"
	sources "market_ingest/internal/modules/sources/service"
	storage "market_ingest/internal/modules/storage/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewNewsFromConfig,
			NewMarketFromConfig,
			NewJob,
		),
	)
}

// NewNewsFromConfig returns nil when news.enabled is false.
func NewNewsFromConfig(
	cfg *config.Config,
	tickers companies.Source,
	source sources.NewsSource,
	enricher *sentiment.Enricher,
	engine *storage.Engine,
	log *zap.Logger,
) *News {
	if !cfg.News.Enabled {
		return nil
	}
	var e Enricher
	if cfg.Sentiment.Enabled {
		e = enricher
	}
	return NewNews(tickers, source, e, engine, NewsConfig{
		Lookback:          cfg.News.Lookback,
		Overlap:           cfg.News.Overlap,
		MaxPerTicker:      cfg.News.MaxPerTicker,
		Concurrency:       cfg.News.Concurrency,
		EnrichConcurrency: cfg.News.EnrichConcurrency,
	}, log)
}

// NewMarketFromConfig returns nil when market.enabled is false.
func NewMarketFromConfig(
	cfg *config.Config,
	tickers companies.Source,
	source sources.CandleSource,
	engine *storage.Engine,
	log *zap.Logger,
) *Market {
	if !cfg.Market.Enabled {
		return nil
	}
	return NewMarket(tickers, source, engine, MarketConfig{
		Timeframes:  cfg.Market.Timeframes,
		Lookback:    cfg.Market.Lookback,
		Concurrency: cfg.Market.Concurrency,
	}, log)
}
