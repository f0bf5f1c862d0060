package runner

import (
	"context"
	"testing"
	"time"

	"market_ingest/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

var marketCfg = MarketConfig{
	Timeframes:  []string{"1d"},
	Lookback:    30 * 24 * time.Hour,
	Concurrency: 2,
}

func day(n int) time.Time {
	return time.Date(2025, 9, 1+n, 0, 0, 0, 0, time.UTC)
}

func TestMarketInvalidBarRejected(t *testing.T) {
	ctx := context.Background()
	engine, store := newStore(t)
	src := &fakeCandles{bars: map[string][]models.RawCandle{
		"AAPL/1d": {
			bar(day(0), "100", "110", "95", "105"),
			bar(day(1), "105", "90", "100", "101"), // high < low
			bar(day(2), "101", "108", "99", "107"),
		},
	}}
	p := NewMarket(static("AAPL"), src, engine, marketCfg, zaptest.NewLogger(t))

	run := p.Run(ctx, RunInput{Now: now})
	if run.State != models.StatePartiallyFailed {
		t.Fatalf("state = %s", run.State)
	}
	if run.Counters.Fetched != 3 || run.Counters.Inserted != 2 || run.Counters.Invalid != 1 {
		t.Errorf("counters = %+v", run.Counters)
	}

	stored, err := store.Candles(ctx, "AAPL", "1d")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d bars, want 2", len(stored))
	}
	for _, c := range stored {
		if c.Start.Equal(day(1)) {
			t.Error("invalid bar reached the store")
		}
	}

	key := models.WatermarkKey{Pipeline: MarketPipelineKey("1d"), Ticker: "AAPL"}
	if !run.Watermarks[key].Equal(day(2)) {
		t.Errorf("watermark = %v, want newest bar %v", run.Watermarks[key], day(2))
	}
}

func TestMarketOverwrite(t *testing.T) {
	ctx := context.Background()
	engine, store := newStore(t)
	src := &fakeCandles{bars: map[string][]models.RawCandle{
		"AAPL/1d": {bar(day(0), "100", "110", "95", "105")},
	}}
	p := NewMarket(static("AAPL"), src, engine, marketCfg, zaptest.NewLogger(t))

	first := p.Run(ctx, RunInput{Now: now})
	if first.Counters.Inserted != 1 {
		t.Fatalf("first counters = %+v", first.Counters)
	}

	src.bars["AAPL/1d"] = []models.RawCandle{bar(day(0), "100", "112", "95", "111.25")}
	second := p.Run(ctx, RunInput{Now: now})
	if second.State != models.StateCompleted || second.Counters.Updated != 1 {
		t.Fatalf("second run %s %+v", second.State, second.Counters)
	}

	stored, err := store.Candles(ctx, "AAPL", "1d")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || !stored[0].Close.Equal(decimal.RequireFromString("111.25")) {
		t.Errorf("stored = %+v", stored)
	}
}

func TestMarketWindows(t *testing.T) {
	engine, _ := newStore(t)
	src := &fakeCandles{}
	cfg := marketCfg
	cfg.Timeframes = []string{"1d", "60m", "1h"}
	p := NewMarket(static("AAPL", "MSFT"), src, engine, cfg, zaptest.NewLogger(t))

	if got := p.Pipelines(); len(got) != 2 || got[0] != "market:1d" || got[1] != "market:1h" {
		t.Fatalf("pipelines = %v", got)
	}

	wm := day(5)
	run := p.Run(context.Background(), RunInput{
		Now:        now,
		Watermarks: map[models.WatermarkKey]time.Time{{Pipeline: "market:1h", Ticker: "MSFT"}: wm},
	})
	if len(run.Tickers) != 4 {
		t.Fatalf("units = %d, want 4", len(run.Tickers))
	}

	if r := src.rangeOf("MSFT/1h"); !r.From.Equal(wm) || !r.To.Equal(now) {
		t.Errorf("MSFT/1h range = %+v", r)
	}
	if r := src.rangeOf("AAPL/1d"); !r.From.Equal(now.Add(-cfg.Lookback)) {
		t.Errorf("AAPL/1d range = %+v", r)
	}
	if len(run.Watermarks) != 0 {
		t.Errorf("empty fetches advanced watermarks: %v", run.Watermarks)
	}
}

func TestMarketRangeOverride(t *testing.T) {
	engine, _ := newStore(t)
	src := &fakeCandles{}
	p := NewMarket(static("AAPL"), src, engine, marketCfg, zaptest.NewLogger(t))

	rng := models.TimeRange{From: day(0), To: day(3)}
	p.Run(context.Background(), RunInput{
		Now:        now,
		Watermarks: map[models.WatermarkKey]time.Time{{Pipeline: "market:1d", Ticker: "AAPL"}: day(8)},
		Range:      &rng,
	})
	if got := src.rangeOf("AAPL/1d"); got != rng {
		t.Errorf("range = %+v, want %+v", got, rng)
	}
}

func TestMarketBackfillKeepsWatermarks(t *testing.T) {
	engine, _ := newStore(t)
	src := &fakeCandles{bars: map[string][]models.RawCandle{
		"AAPL/1d": {bar(day(1), "100", "110", "95", "105")},
		"MSFT/1d": {bar(day(2), "100", "110", "95", "105")},
		"NVDA/1d": {bar(day(2), "100", "110", "95", "105")},
	}}
	p := NewMarket(static("AAPL", "MSFT", "NVDA"), src, engine, marketCfg, zaptest.NewLogger(t))

	aapl := models.WatermarkKey{Pipeline: "market:1d", Ticker: "AAPL"}
	msft := models.WatermarkKey{Pipeline: "market:1d", Ticker: "MSFT"}
	nvda := models.WatermarkKey{Pipeline: "market:1d", Ticker: "NVDA"}
	rng := models.TimeRange{From: day(0), To: day(3)}
	run := p.Run(context.Background(), RunInput{
		Now:        now,
		Watermarks: map[models.WatermarkKey]time.Time{aapl: day(8), msft: day(1)},
		Range:      &rng,
	})
	if run.State != models.StateCompleted {
		t.Fatalf("state = %s", run.State)
	}

	if _, ok := run.Watermarks[aapl]; ok {
		t.Errorf("backfill moved AAPL mark back to %v", run.Watermarks[aapl])
	}
	if got := run.Watermarks[msft]; !got.Equal(day(2)) {
		t.Errorf("MSFT mark = %v, want %v", got, day(2))
	}
	if _, ok := run.Watermarks[nvda]; ok {
		t.Errorf("backfill created NVDA mark %v", run.Watermarks[nvda])
	}
}

func TestMarketFetchFailure(t *testing.T) {
	engine, _ := newStore(t)
	src := &fakeCandles{
		bars: map[string][]models.RawCandle{"AAPL/1d": {bar(day(0), "1", "2", "1", "2")}},
		errs: map[string]error{"MSFT/1d": models.Transient("fake.get", context.DeadlineExceeded)},
	}
	p := NewMarket(static("AAPL", "MSFT"), src, engine, marketCfg, zaptest.NewLogger(t))

	run := p.Run(context.Background(), RunInput{Now: now})
	if run.State != models.StatePartiallyFailed {
		t.Fatalf("state = %s", run.State)
	}
	if s := summaryOf(t, run, "MSFT"); s.FetchKind != models.KindTransient {
		t.Errorf("MSFT = %+v", s)
	}
	if s := summaryOf(t, run, "AAPL"); s.Inserted != 1 {
		t.Errorf("AAPL = %+v", s)
	}
}

func TestMarketAbortsWithoutTickers(t *testing.T) {
	engine, _ := newStore(t)
	p := NewMarket(static(), &fakeCandles{}, engine, marketCfg, zaptest.NewLogger(t))

	if run := p.Run(context.Background(), RunInput{Now: now}); run.State != models.StateAborted {
		t.Errorf("state = %s", run.State)
	}
}
