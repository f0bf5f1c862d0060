package runner

import (
	"context"
	"sort"
	"strconv"
	"time"

	"market_ingest/internal/helper"
	"market_ingest/internal/models"
	sources "market_ingest/internal/modules/sources/service"
	storage "market_ingest/internal/modules/storage/service"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type MarketConfig struct {
	Timeframes  []string
	Lookback    time.Duration
	Concurrency int
}

type CandleEngine interface {
	Ping(ctx context.Context) error
	SaveCandle(ctx context.Context, c *models.MarketCandle) (models.Outcome, error)
}

// Market fetches and upserts candles for every active ticker and timeframe.
type Market struct {
	companies TickerSource
	source    sources.CandleSource
	engine    CandleEngine
	cfg       MarketConfig
	log       *zap.Logger
	now       func() time.Time
}

func NewMarket(companies TickerSource, source sources.CandleSource, engine CandleEngine, cfg MarketConfig, log *zap.Logger) *Market {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	tfs := make([]string, 0, len(cfg.Timeframes))
	seen := make(map[string]bool)
	for _, tf := range cfg.Timeframes {
		tf = helper.NormTF(tf)
		if tf != "" && !seen[tf] {
			seen[tf] = true
			tfs = append(tfs, tf)
		}
	}
	cfg.Timeframes = tfs
	return &Market{
		companies: companies,
		source:    source,
		engine:    engine,
		cfg:       cfg,
		log:       log.Named("market"),
		now:       time.Now,
	}
}

// Pipelines lists the watermark pipeline names this pipeline reads and writes.
func (p *Market) Pipelines() []string {
	out := make([]string, len(p.cfg.Timeframes))
	for i, tf := range p.cfg.Timeframes {
		out[i] = MarketPipelineKey(tf)
	}
	return out
}

type marketUnit struct {
	sum     *models.TickerSummary
	rng     models.TimeRange
	fetched bool
	candles []*models.MarketCandle
	latest  time.Time
}

func (p *Market) Run(ctx context.Context, in RunInput) *models.IngestionRun {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipeline.market")
	defer span.Finish()

	run := models.NewIngestionRun(PipelineMarket, in.Now)
	span.SetTag("run_id", run.ID.String())
	log := p.log.With(zap.String("run_id", run.ID.String()))

	tickers := resolveTickers(ctx, run, p.companies, p.engine.Ping, p.now)
	if run.State == models.StateAborted {
		log.Error("market run aborted", zap.String("reason", run.AbortReason))
		return run
	}

	var units []*marketUnit
	for _, t := range tickers {
		for _, tf := range p.cfg.Timeframes {
			sum := &models.TickerSummary{Ticker: t, Timeframe: tf}
			units = append(units, &marketUnit{sum: sum, rng: p.window(in, t, tf)})
			run.Tickers = append(run.Tickers, sum)
		}
	}

	mustTransition(run, models.StateFetching, p.now())
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, u := range units {
		if ctx.Err() != nil {
			u.sum.Record(models.StateFetching, "", ctx.Err())
			continue
		}
		g.Go(func() error {
			p.fetchUnit(ctx, u, log)
			return nil
		})
	}
	_ = g.Wait()

	mustTransition(run, models.StatePersisting, p.now())
	var pg errgroup.Group
	pg.SetLimit(p.cfg.Concurrency)
	for _, u := range units {
		if len(u.candles) == 0 {
			continue
		}
		pg.Go(func() error {
			p.persistUnit(ctx, u)
			return nil
		})
	}
	_ = pg.Wait()

	for _, u := range units {
		if (!u.fetched && u.sum.FetchOK()) || u.sum.Unprocessed > 0 {
			run.Cancelled = true
		}
		if !u.fetched || !u.sum.FetchOK() || u.sum.Failed > 0 || u.sum.Unprocessed > 0 || u.latest.IsZero() {
			continue
		}
		key := models.WatermarkKey{Pipeline: MarketPipelineKey(u.sum.Timeframe), Ticker: u.sum.Ticker}
		if in.Range != nil {
			// a backfill only moves marks that already exist
			if mark, ok := in.Watermarks[key]; !ok || !u.latest.After(mark) {
				continue
			}
		}
		// the newest bar may still be forming, so the next run starts at it
		run.Watermarks[key] = u.latest
	}

	if err := run.Finish(p.now()); err != nil {
		panic(err)
	}
	log.Info("market run finished", run.Fields()...)
	return run
}

func (p *Market) window(in RunInput, ticker, tf string) models.TimeRange {
	if in.Range != nil {
		return *in.Range
	}
	from := in.Now.Add(-p.cfg.Lookback)
	if wm, ok := in.Watermarks[models.WatermarkKey{Pipeline: MarketPipelineKey(tf), Ticker: ticker}]; ok {
		from = wm
	}
	return models.TimeRange{From: from, To: in.Now}
}

func (p *Market) fetchUnit(ctx context.Context, u *marketUnit, log *zap.Logger) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "market.fetch")
	span.SetTag("ticker", u.sum.Ticker)
	span.SetTag("timeframe", u.sum.Timeframe)
	defer span.Finish()

	var raws []models.RawCandle
	for raw, err := range p.source.FetchCandles(ctx, u.sum.Ticker, u.sum.Timeframe, u.rng) {
		if err != nil {
			if ctx.Err() != nil {
				u.sum.Record(models.StateFetching, "", err)
				return
			}
			u.sum.FailFetch(err)
			span.SetTag("error", true)
			log.Warn("fetch failed",
				zap.String("ticker", u.sum.Ticker),
				zap.String("timeframe", u.sum.Timeframe),
				zap.String("kind", string(models.KindOf(err))),
				zap.Error(err),
			)
			return
		}
		raws = append(raws, raw)
	}
	u.fetched = true
	u.sum.Fetched = len(raws)

	for _, raw := range raws {
		if raw.Ticker == "" {
			raw.Ticker = u.sum.Ticker
		}
		if raw.Timeframe == "" {
			raw.Timeframe = u.sum.Timeframe
		}
		c, err := storage.CandleFromRaw(raw)
		if err != nil {
			u.sum.Invalid++
			u.sum.Record(models.StateFetching, candleKey(raw), err)
			continue
		}
		u.candles = append(u.candles, c)
	}
	sort.SliceStable(u.candles, func(i, j int) bool {
		return u.candles[i].Start.Before(u.candles[j].Start)
	})
}

func candleKey(raw models.RawCandle) string {
	if raw.Time != "" {
		return raw.Time
	}
	return strconv.FormatInt(raw.TsMillis, 10)
}

func (p *Market) persistUnit(ctx context.Context, u *marketUnit) {
	for i, c := range u.candles {
		if ctx.Err() != nil {
			u.sum.Unprocessed += len(u.candles) - i
			return
		}
		sctx, cancel := saveCtx(ctx)
		out, err := p.engine.SaveCandle(sctx, c)
		cancel()
		key := c.Start.Format(time.RFC3339)
		switch {
		case err != nil && out == models.OutcomeInvalid:
			u.sum.Invalid++
			u.sum.Record(models.StatePersisting, key, err)
			continue
		case err != nil:
			u.sum.Failed++
			u.sum.Record(models.StatePersisting, key, err)
			continue
		}
		u.sum.Count(out)
		if c.Start.After(u.latest) {
			u.latest = c.Start
		}
	}
}
