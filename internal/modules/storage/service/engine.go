package service

import (
	"context"
	"time"

	"market_ingest/internal/models"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

// Store persists articles and candles idempotently. Unique keys in the store
// arbitrate concurrent writers, implementations take no application locks.
type Store interface {
	// UpsertArticle inserts the article or, when its URL key exists, fills an
	// unset sentiment and adds ticker associations.
	UpsertArticle(ctx context.Context, a *models.Article) (models.Outcome, error)
	// UpsertCandle inserts or overwrites the bar keyed by (ticker, timeframe, start).
	UpsertCandle(ctx context.Context, c *models.MarketCandle) (models.Outcome, error)
	Ping(ctx context.Context) error
}

// Engine is the only writer of articles and candles.
type Engine struct {
	store Store
	urls  *URLNormalizer
	log   *zap.Logger
	now   func() time.Time
}

func NewEngine(store Store, trackingParams []string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store: store,
		urls:  NewURLNormalizer(trackingParams),
		log:   log.Named("engine"),
		now:   time.Now,
	}
}

func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

func (e *Engine) SaveArticle(ctx context.Context, a *models.Article) (models.Outcome, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.save_article")
	defer span.Finish()

	out, err := e.store.UpsertArticle(ctx, a)
	if err != nil {
		span.SetTag("error", true)
		return "", err
	}
	e.log.Debug("article saved", zap.String("url_key", a.URLKey), zap.String("outcome", string(out)))
	return out, nil
}

// SaveCandle writes a validated bar. Invalid bars never reach the store.
func (e *Engine) SaveCandle(ctx context.Context, c *models.MarketCandle) (models.Outcome, error) {
	if err := c.Validate(); err != nil {
		return models.OutcomeInvalid, err
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.save_candle")
	defer span.Finish()

	out, err := e.store.UpsertCandle(ctx, c)
	if err != nil {
		span.SetTag("error", true)
		return "", err
	}
	return out, nil
}
