package service

import (
	"context"
	"iter"
	"time"

	"market_ingest/internal/models"
)

// NewsSource yields raw articles for a ticker published at or after since.
// The sequence is finite and pages are fetched lazily as it is consumed.
// A yielded error ends the sequence.
type NewsSource interface {
	Name() string
	FetchNews(ctx context.Context, ticker string, since time.Time) iter.Seq2[models.RawArticle, error]
}

// CandleSource yields raw bars of one timeframe whose start lies in the range.
type CandleSource interface {
	Name() string
	FetchCandles(ctx context.Context, ticker, timeframe string, r models.TimeRange) iter.Seq2[models.RawCandle, error]
}

// Governor hands out provider permits, see governor/service.
type Governor interface {
	Do(ctx context.Context, provider string, fn func(ctx context.Context) error) error
}

type Options struct {
	BaseURL        string
	APIKey         string
	PageSize       int
	PageDays       int
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}
