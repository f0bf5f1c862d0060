package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market_ingest/internal/models"
	"market_ingest/internal/runner"

	"go.uber.org/fx"
)

func main() {
	os.Exit(run())
}

func run() int {
	pipeline := flag.String("pipeline", runner.PipelineAll, "pipeline to run: news, market or all")
	from := flag.String("from", "", "candle range start (ISO 8601), overrides watermarks")
	to := flag.String("to", "", "candle range end (ISO 8601), defaults to now")
	flag.Parse()

	rng, err := parseRange(*from, *to)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var job *runner.Job
	app := fx.New(
		fx.Provide(func() context.Context { return ctx }),
		modules(),
		fx.Populate(&job),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	_, code := job.Run(ctx, *pipeline, rng)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return code
}

func parseRange(from, to string) (*models.TimeRange, error) {
	if from == "" {
		if to != "" {
			return nil, fmt.Errorf("-to requires -from")
		}
		return nil, nil
	}
	start, err := models.ParseBarTime(from)
	if err != nil {
		return nil, err
	}
	end := time.Now().UTC()
	if to != "" {
		if end, err = models.ParseBarTime(to); err != nil {
			return nil, err
		}
	}
	if !end.After(start) {
		return nil, fmt.Errorf("empty range %s .. %s", from, to)
	}
	return &models.TimeRange{From: start, To: end}, nil
}
