package runner

import (
	"context"
	"sync"
	"time"

	"market_ingest/internal/models"
	watermark "market_ingest/internal/modules/watermark/service"
	"market_ingest/internal/notify"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Job is one invocation: load watermarks, run the selected pipelines, save the
// advanced watermarks and report.
type Job struct {
	news     *News   // nil when disabled
	market   *Market // nil when disabled
	marks    watermark.Store
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewJob(news *News, market *Market, marks watermark.Store, notifier notify.Notifier, log *zap.Logger) *Job {
	return &Job{
		news:     news,
		market:   market,
		marks:    marks,
		notifier: notifier,
		log:      log.Named("job"),
		now:      time.Now,
	}
}

// Run executes the pipeline named by pipeline (news, market or all) and
// returns the process exit code.
func (j *Job) Run(ctx context.Context, pipeline string, rng *models.TimeRange) ([]*models.IngestionRun, int) {
	news, market, err := j.selected(pipeline)
	if err != nil {
		j.log.Error("nothing to run", zap.String("pipeline", pipeline), zap.Error(err))
		return nil, 1
	}

	var names []string
	if news {
		names = append(names, PipelineNews)
	}
	if market {
		names = append(names, j.market.Pipelines()...)
	}

	now := j.now().UTC()
	marks, err := j.marks.Load(ctx, names...)
	if err != nil {
		err = models.Fatal("watermark store unavailable", err)
		var runs []*models.IngestionRun
		if news {
			runs = append(runs, j.aborted(PipelineNews, now, err))
		}
		if market {
			runs = append(runs, j.aborted(PipelineMarket, now, err))
		}
		return runs, j.report(ctx, runs)
	}
	in := RunInput{Now: now, Watermarks: marks, Range: rng}

	var (
		wg        sync.WaitGroup
		newsRun   *models.IngestionRun
		marketRun *models.IngestionRun
	)
	if news {
		wg.Add(1)
		go func() {
			defer wg.Done()
			newsRun = j.news.Run(ctx, in)
		}()
	}
	if market {
		wg.Add(1)
		go func() {
			defer wg.Done()
			marketRun = j.market.Run(ctx, in)
		}()
	}
	wg.Wait()

	var runs []*models.IngestionRun
	advanced := make(map[models.WatermarkKey]time.Time)
	for _, r := range []*models.IngestionRun{newsRun, marketRun} {
		if r == nil {
			continue
		}
		runs = append(runs, r)
		for k, v := range r.Watermarks {
			advanced[k] = v
		}
	}

	code := j.report(ctx, runs)
	if len(advanced) > 0 {
		sctx, cancel := saveCtx(ctx)
		defer cancel()
		if err := j.marks.Save(sctx, advanced); err != nil {
			// the next run repeats the window, which the store absorbs
			j.log.Error("save watermarks", zap.Int("count", len(advanced)), zap.Error(err))
			if code == 0 {
				code = 2
			}
		}
	}
	return runs, code
}

func (j *Job) selected(pipeline string) (news, market bool, err error) {
	switch pipeline {
	case PipelineNews:
		news = true
	case PipelineMarket:
		market = true
	case PipelineAll, "":
		news, market = j.news != nil, j.market != nil
	default:
		return false, false, errors.Errorf("unknown pipeline %q", pipeline)
	}
	if news && j.news == nil {
		return false, false, errors.New("news pipeline is disabled")
	}
	if market && j.market == nil {
		return false, false, errors.New("market pipeline is disabled")
	}
	if !news && !market {
		return false, false, errors.New("all pipelines are disabled")
	}
	return news, market, nil
}

func (j *Job) aborted(pipeline string, at time.Time, err error) *models.IngestionRun {
	run := models.NewIngestionRun(pipeline, at)
	run.Abort(err, j.now())
	j.log.Error("run aborted", run.Fields()...)
	return run
}

// report notifies every run and folds their states into one exit code:
// any aborted run wins over a partial one.
func (j *Job) report(ctx context.Context, runs []*models.IngestionRun) int {
	code := 0
	for _, r := range runs {
		j.notifier.Notify(ctx, r)
		switch c := r.ExitCode(); {
		case c == 1:
			code = 1
		case c == 2 && code == 0:
			code = 2
		}
	}
	return code
}
