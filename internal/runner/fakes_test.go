package runner

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"market_ingest/internal/models"
	companies "market_ingest/internal/modules/companies/service"
	storage "market_ingest/internal/modules/storage/service"
	"market_ingest/pkg/db"

	"go.uber.org/zap/zaptest"
)

var now = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

type fakeNews struct {
	mu    sync.Mutex
	items map[string][]models.RawArticle
	errs  map[string]error
	since map[string]time.Time
}

func (f *fakeNews) Name() string { return "fake" }

func (f *fakeNews) FetchNews(_ context.Context, ticker string, since time.Time) iter.Seq2[models.RawArticle, error] {
	f.mu.Lock()
	if f.since == nil {
		f.since = make(map[string]time.Time)
	}
	f.since[ticker] = since
	items, err := f.items[ticker], f.errs[ticker]
	f.mu.Unlock()

	return func(yield func(models.RawArticle, error) bool) {
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
		if err != nil {
			yield(models.RawArticle{}, err)
		}
	}
}

func (f *fakeNews) sinceOf(ticker string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since[ticker]
}

type fakeCandles struct {
	mu     sync.Mutex
	bars   map[string][]models.RawCandle // ticker/timeframe -> bars
	errs   map[string]error
	ranges map[string]models.TimeRange
}

func (f *fakeCandles) Name() string { return "fake" }

func (f *fakeCandles) FetchCandles(_ context.Context, ticker, timeframe string, r models.TimeRange) iter.Seq2[models.RawCandle, error] {
	key := ticker + "/" + timeframe
	f.mu.Lock()
	if f.ranges == nil {
		f.ranges = make(map[string]models.TimeRange)
	}
	f.ranges[key] = r
	bars, err := f.bars[key], f.errs[key]
	f.mu.Unlock()

	return func(yield func(models.RawCandle, error) bool) {
		if err != nil {
			yield(models.RawCandle{}, err)
			return
		}
		for _, b := range bars {
			if !yield(b, nil) {
				return
			}
		}
	}
}

func (f *fakeCandles) rangeOf(key string) models.TimeRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ranges[key]
}

type enrichFunc func(ctx context.Context, a *models.Article) error

func (f enrichFunc) Enrich(ctx context.Context, a *models.Article) error { return f(ctx, a) }

func positive(_ context.Context, a *models.Article) error {
	a.Sentiment = &models.Sentiment{Label: models.SentimentPositive, Confidence: 0.9, Model: "test", At: now}
	return nil
}

type unreachable struct{ *storage.Engine }

func (unreachable) Ping(context.Context) error {
	return models.Transient("ping", context.DeadlineExceeded)
}

type recordingNotifier struct {
	mu   sync.Mutex
	runs []*models.IngestionRun
}

func (n *recordingNotifier) Notify(_ context.Context, run *models.IngestionRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
}

func newStore(t *testing.T) (*storage.Engine, *storage.SQLiteStore) {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.CloseSQLite(gdb) })

	store, err := storage.NewSQLiteStore(gdb)
	if err != nil {
		t.Fatal(err)
	}
	return storage.NewEngine(store, nil, zaptest.NewLogger(t)), store
}

func static(tickers ...string) TickerSource { return companies.NewStatic(tickers) }

func article(url, headline string, published time.Time) models.RawArticle {
	return models.RawArticle{
		Provider: "fake",
		URL:      url,
		Headline: headline,
		Datetime: published.Unix(),
	}
}

func bar(at time.Time, o, h, l, c string) models.RawCandle {
	return models.RawCandle{
		Provider: "fake",
		Time:     at.Format(time.RFC3339),
		Open:     o,
		High:     h,
		Low:      l,
		Close:    c,
		Volume:   "1000",
	}
}
