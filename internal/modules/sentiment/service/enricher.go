package service

import (
	"context"
	"strings"
	"time"

	"market_ingest/internal/helper"
	"market_ingest/internal/models"

	"go.uber.org/zap"
)

// Provider is the governor key of the classification endpoint.
const Provider = "sentiment"

type Governor interface {
	Do(ctx context.Context, provider string, fn func(ctx context.Context) error) error
}

type EnricherConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Enricher attaches sentiment to articles. A failed classification leaves the
// article untouched so it can still be persisted.
type Enricher struct {
	cls        Classifier
	gov        Governor
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
}

func NewEnricher(cls Classifier, gov Governor, cfg EnricherConfig, log *zap.Logger) *Enricher {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Enricher{
		cls:        cls,
		gov:        gov,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		log:        log.Named("enricher"),
	}
}

// Enrich classifies the article and sets a.Sentiment on success. Transient
// failures are retried up to MaxRetries attempts, rate limits are absorbed by the
// governor, and anything else is returned at once.
func (e *Enricher) Enrich(ctx context.Context, a *models.Article) error {
	if strings.TrimSpace(a.Headline) == "" && strings.TrimSpace(a.Summary) == "" {
		a.Sentiment = &models.Sentiment{Label: models.SentimentNeutral, At: time.Now().UTC()}
		return nil
	}

	var s models.Sentiment
	err := helper.Retry(ctx, e.maxRetries, e.backoff, func(ctx context.Context) error {
		return e.gov.Do(ctx, Provider, func(ctx context.Context) error {
			var err error
			s, err = e.cls.Classify(ctx, a.Headline, a.Summary)
			return err
		})
	})
	if err != nil {
		e.log.Warn("sentiment failed",
			zap.String("url_key", a.URLKey),
			zap.String("kind", string(models.KindOf(err))),
			zap.Error(err),
		)
		return err
	}
	a.Sentiment = &s
	return nil
}
