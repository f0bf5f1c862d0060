package runner

import (
	"context"
	"sort"
	"time"

	"market_ingest/internal/models"
	sources "market_ingest/internal/modules/sources/service"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type NewsConfig struct {
	Lookback          time.Duration
	Overlap           time.Duration
	MaxPerTicker      int
	Concurrency       int
	EnrichConcurrency int
}

type ArticleEngine interface {
	Ping(ctx context.Context) error
	ArticleFromRaw(raw models.RawArticle, ticker string) (*models.Article, error)
	SaveArticle(ctx context.Context, a *models.Article) (models.Outcome, error)
}

type Enricher interface {
	Enrich(ctx context.Context, a *models.Article) error
}

// News fetches, enriches and stores articles for every active ticker.
type News struct {
	companies TickerSource
	source    sources.NewsSource
	enricher  Enricher // nil when sentiment is disabled
	engine    ArticleEngine
	cfg       NewsConfig
	log       *zap.Logger
	now       func() time.Time
}

func NewNews(companies TickerSource, source sources.NewsSource, enricher Enricher, engine ArticleEngine, cfg NewsConfig, log *zap.Logger) *News {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.EnrichConcurrency < 1 {
		cfg.EnrichConcurrency = 1
	}
	return &News{
		companies: companies,
		source:    source,
		enricher:  enricher,
		engine:    engine,
		cfg:       cfg,
		log:       log.Named("news"),
		now:       time.Now,
	}
}

type newsUnit struct {
	sum      *models.TickerSummary
	since    time.Time
	fetched  bool
	articles []*models.Article
	enrich   []error // parallel to articles
}

func (p *News) Run(ctx context.Context, in RunInput) *models.IngestionRun {
	span, ctx := opentracing.StartSpanFromContext(ctx, "pipeline.news")
	defer span.Finish()

	run := models.NewIngestionRun(PipelineNews, in.Now)
	span.SetTag("run_id", run.ID.String())
	log := p.log.With(zap.String("run_id", run.ID.String()))

	tickers := resolveTickers(ctx, run, p.companies, p.engine.Ping, p.now)
	if run.State == models.StateAborted {
		log.Error("news run aborted", zap.String("reason", run.AbortReason))
		return run
	}

	units := make([]*newsUnit, len(tickers))
	for i, t := range tickers {
		since := in.Now.Add(-p.cfg.Lookback)
		if wm, ok := in.Watermarks[models.WatermarkKey{Pipeline: PipelineNews, Ticker: t}]; ok {
			since = wm.Add(-p.cfg.Overlap)
		}
		sum := &models.TickerSummary{Ticker: t}
		units[i] = &newsUnit{sum: sum, since: since}
		run.Tickers = append(run.Tickers, sum)
	}

	mustTransition(run, models.StateFetching, p.now())
	p.fetch(ctx, units, log)

	if p.enricher != nil {
		mustTransition(run, models.StateEnriching, p.now())
		p.enrich(ctx, units)
	}

	mustTransition(run, models.StatePersisting, p.now())
	p.persist(ctx, units)

	for _, u := range units {
		if (!u.fetched && u.sum.FetchOK()) || u.sum.Unprocessed > 0 {
			run.Cancelled = true
		}
		if !u.fetched || !u.sum.FetchOK() || u.sum.Failed > 0 || u.sum.Unprocessed > 0 {
			continue
		}
		run.Watermarks[models.WatermarkKey{Pipeline: PipelineNews, Ticker: u.sum.Ticker}] = in.Now
	}

	if err := run.Finish(p.now()); err != nil {
		panic(err)
	}
	log.Info("news run finished", run.Fields()...)
	return run
}

func (p *News) fetch(ctx context.Context, units []*newsUnit, log *zap.Logger) {
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, u := range units {
		if ctx.Err() != nil {
			u.sum.Record(models.StateFetching, "", ctx.Err())
			continue
		}
		g.Go(func() error {
			p.fetchTicker(ctx, u, log)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *News) fetchTicker(ctx context.Context, u *newsUnit, log *zap.Logger) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "news.fetch")
	span.SetTag("ticker", u.sum.Ticker)
	defer span.Finish()

	var raws []models.RawArticle
	for raw, err := range p.source.FetchNews(ctx, u.sum.Ticker, u.since) {
		if err != nil {
			if ctx.Err() != nil {
				u.sum.Record(models.StateFetching, "", err)
				return
			}
			// items of a failed ticker are dropped so its watermark stays put
			u.sum.FailFetch(err)
			span.SetTag("error", true)
			log.Warn("fetch failed",
				zap.String("ticker", u.sum.Ticker),
				zap.String("kind", string(models.KindOf(err))),
				zap.Error(err),
			)
			return
		}
		raws = append(raws, raw)
	}
	u.fetched = true

	sort.SliceStable(raws, func(i, j int) bool {
		return raws[i].PublishedTime().After(raws[j].PublishedTime())
	})
	if p.cfg.MaxPerTicker > 0 && len(raws) > p.cfg.MaxPerTicker {
		raws = raws[:p.cfg.MaxPerTicker]
	}

	u.sum.Fetched = len(raws)
	for _, raw := range raws {
		a, err := p.engine.ArticleFromRaw(raw, u.sum.Ticker)
		if err != nil {
			u.sum.Invalid++
			u.sum.Record(models.StateFetching, raw.URL, err)
			continue
		}
		u.articles = append(u.articles, a)
	}
	u.enrich = make([]error, len(u.articles))
}

// enrich classifies each distinct URL once. Copies of the same story under other
// tickers share the result.
func (p *News) enrich(ctx context.Context, units []*newsUnit) {
	type ref struct{ unit, idx int }
	primary := make(map[string]ref)
	var order []ref
	for ui, u := range units {
		for ai, a := range u.articles {
			if _, ok := primary[a.URLKey]; ok {
				continue
			}
			r := ref{ui, ai}
			primary[a.URLKey] = r
			order = append(order, r)
		}
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.EnrichConcurrency)
	for _, r := range order {
		if ctx.Err() != nil {
			break
		}
		u := units[r.unit]
		g.Go(func() error {
			u.enrich[r.idx] = p.enricher.Enrich(ctx, u.articles[r.idx])
			return nil
		})
	}
	_ = g.Wait()

	for ui, u := range units {
		for ai, a := range u.articles {
			src := primary[a.URLKey]
			if src.unit != ui || src.idx != ai {
				first := units[src.unit]
				a.Sentiment = first.articles[src.idx].Sentiment
				u.enrich[ai] = first.enrich[src.idx]
			}
			err := u.enrich[ai]
			if err == nil || ctx.Err() != nil {
				continue
			}
			u.sum.EnrichmentFailed++
			u.sum.Record(models.StateEnriching, a.URLKey, err)
		}
	}
}

func (p *News) persist(ctx context.Context, units []*newsUnit) {
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, u := range units {
		if len(u.articles) == 0 {
			continue
		}
		g.Go(func() error {
			p.persistTicker(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *News) persistTicker(ctx context.Context, u *newsUnit) {
	for i, a := range u.articles {
		if ctx.Err() != nil {
			u.sum.Unprocessed += len(u.articles) - i
			return
		}
		sctx, cancel := saveCtx(ctx)
		out, err := p.engine.SaveArticle(sctx, a)
		cancel()
		if err != nil {
			u.sum.Failed++
			u.sum.Record(models.StatePersisting, a.URLKey, err)
			continue
		}
		u.sum.Count(out)
	}
}
