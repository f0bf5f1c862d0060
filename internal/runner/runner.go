package runner

import (
	"context"
	"time"

	"market_ingest/internal/models"
)

const (
	PipelineNews   = "news"
	PipelineMarket = "market"
	PipelineAll    = "all"
)

// persistTimeout bounds a store write that is already in flight when the run
// is cancelled.
const persistTimeout = 30 * time.Second

// RunInput is everything a pipeline run depends on besides the providers.
type RunInput struct {
	Now        time.Time
	Watermarks map[models.WatermarkKey]time.Time
	// Range overrides the watermark-derived candle window.
	Range *models.TimeRange
}

// TickerSource lists the tickers a run works on.
type TickerSource interface {
	ActiveTickers(ctx context.Context) ([]string, error)
}

// MarketPipelineKey is the watermark pipeline name for one candle timeframe.
func MarketPipelineKey(timeframe string) string {
	return PipelineMarket + ":" + timeframe
}

func mustTransition(run *models.IngestionRun, to models.RunState, at time.Time) {
	if err := run.Transition(to, at); err != nil {
		panic(err)
	}
}

// resolveTickers aborts the run when there is nothing to do or no way to store it.
func resolveTickers(ctx context.Context, run *models.IngestionRun, companies TickerSource, ping func(context.Context) error, now func() time.Time) []string {
	if err := ping(ctx); err != nil {
		run.Abort(models.Fatal("persistence store unreachable", err), now())
		return nil
	}
	tickers, err := companies.ActiveTickers(ctx)
	if err != nil {
		run.Abort(models.Fatal("active tickers unavailable", err), now())
		return nil
	}
	if len(tickers) == 0 {
		run.Abort(models.Fatal("no active tickers", nil), now())
		return nil
	}
	return tickers
}

// saveCtx lets an in-flight write finish after ctx is cancelled.
func saveCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
