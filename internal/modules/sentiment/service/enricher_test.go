package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"market_ingest/internal/models"
	governor "market_ingest/internal/modules/governor/service"

	"go.uber.org/zap/zaptest"
)

type classifierFunc func(ctx context.Context, headline, body string) (models.Sentiment, error)

func (f classifierFunc) Classify(ctx context.Context, headline, body string) (models.Sentiment, error) {
	return f(ctx, headline, body)
}

func newTestEnricher(t *testing.T, cls Classifier) *Enricher {
	gov := governor.New(governor.Config{
		Default:             governor.Budget{Calls: 1000, Window: time.Second},
		MaxRateLimitRetries: 2,
	}, zaptest.NewLogger(t))
	return NewEnricher(cls, gov, EnricherConfig{MaxRetries: 3, RetryBackoff: time.Millisecond}, zaptest.NewLogger(t))
}

func TestEnrichSuccess(t *testing.T) {
	e := newTestEnricher(t, classifierFunc(func(_ context.Context, headline, _ string) (models.Sentiment, error) {
		if headline != "Apple beats" {
			t.Errorf("headline = %q", headline)
		}
		return models.Sentiment{Label: models.SentimentPositive, Confidence: 0.9, Model: "m"}, nil
	}))

	a := &models.Article{Headline: "Apple beats"}
	if err := e.Enrich(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if a.Sentiment == nil || a.Sentiment.Label != models.SentimentPositive {
		t.Errorf("Sentiment = %+v", a.Sentiment)
	}
}

func TestEnrichRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	e := newTestEnricher(t, classifierFunc(func(context.Context, string, string) (models.Sentiment, error) {
		if calls.Add(1) < 3 {
			return models.Sentiment{}, models.Transient("classify", errors.New("502"))
		}
		return models.Sentiment{Label: models.SentimentNegative}, nil
	}))

	a := &models.Article{Headline: "h"}
	if err := e.Enrich(context.Background(), a); err != nil {
		t.Fatalf("Enrich error = %v", err)
	}
	if calls.Load() != 3 || a.Sentiment == nil {
		t.Errorf("calls = %d, sentiment = %v", calls.Load(), a.Sentiment)
	}
}

func TestEnrichGivesUp(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{"transient exhausted", models.Transient("classify", errors.New("timeout")), 3},
		{"permanent not retried", models.Permanentf("classify", "bad request"), 1},
		{"rate limit retried by governor", &models.RateLimitedError{Provider: Provider, RetryAfter: time.Millisecond}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			e := newTestEnricher(t, classifierFunc(func(context.Context, string, string) (models.Sentiment, error) {
				calls.Add(1)
				return models.Sentiment{}, tt.err
			}))

			a := &models.Article{Headline: "h"}
			if err := e.Enrich(context.Background(), a); err == nil {
				t.Fatal("expected error")
			}
			if a.Sentiment != nil {
				t.Error("sentiment must stay unset on failure")
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestEnrichEmptyArticleIsNeutral(t *testing.T) {
	e := newTestEnricher(t, classifierFunc(func(context.Context, string, string) (models.Sentiment, error) {
		t.Error("classifier must not be called")
		return models.Sentiment{}, nil
	}))

	a := &models.Article{}
	if err := e.Enrich(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if a.Sentiment == nil || a.Sentiment.Label != models.SentimentNeutral || a.Sentiment.Confidence != 0 {
		t.Errorf("Sentiment = %+v", a.Sentiment)
	}
}
