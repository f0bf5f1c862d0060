package sources

import (
	"market_ingest/internal/modules/config"
	governor "market_ingest/internal/modules/governor/service"
	"market_ingest/internal/modules/sources/service"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("sources",
		fx.Provide(
			NewNewsSource,   // -> service.NewsSource
			NewCandleSource, // -> service.CandleSource
		),
	)
}

// NewNewsSource returns nil when the news pipeline is disabled.
func NewNewsSource(cfg *config.Config, gov *governor.Governor, log *zap.Logger) (service.NewsSource, error) {
	if !cfg.News.Enabled {
		return nil, nil
	}
	opts := service.Options{
		BaseURL:        cfg.News.BaseURL,
		APIKey:         cfg.News.APIKey,
		PageSize:       cfg.News.PageSize,
		PageDays:       cfg.News.PageDays,
		RequestTimeout: cfg.News.RequestTimeout,
		MaxRetries:     cfg.News.MaxRetries,
		RetryBackoff:   cfg.News.RetryBackoff,
	}
	switch cfg.News.Provider {
	case config.NewsProviderNewsAPI:
		return service.NewNewsAPI(opts, gov, log), nil
	case config.NewsProviderFinnhub:
		return service.NewFinnhub(opts, gov, log), nil
	}
	return nil, errors.Errorf("unknown news provider %q", cfg.News.Provider)
}

// NewCandleSource returns nil when the market pipeline is disabled.
func NewCandleSource(cfg *config.Config, gov *governor.Governor, log *zap.Logger) (service.CandleSource, error) {
	if !cfg.Market.Enabled {
		return nil, nil
	}
	switch cfg.Market.Provider {
	case config.MarketProviderOKX:
		return service.NewOKX(service.Options{
			BaseURL:        cfg.Market.BaseURL,
			PageSize:       cfg.Market.PageSize,
			RequestTimeout: cfg.Market.RequestTimeout,
			MaxRetries:     cfg.Market.MaxRetries,
			RetryBackoff:   cfg.Market.RetryBackoff,
		}, gov, log), nil
	case config.MarketProviderFile:
		return service.NewFile(cfg.Market.FilePath, log), nil
	}
	return nil, errors.Errorf("unknown market provider %q", cfg.Market.Provider)
}
