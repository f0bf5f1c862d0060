package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"market_ingest/internal/models"
	companies "market_ingest/internal/modules/companies/service"
	"market_ingest/internal/modules/config"
	storage "market_ingest/internal/modules/storage/service"
	watermark "market_ingest/internal/modules/watermark/service"
	"market_ingest/pkg/db"
	"market_ingest/pkg/logger"

	"github.com/pkg/errors"
)

const seedCompanySQL = `
INSERT INTO companies (ticker, name, is_active) VALUES ($1, $2, TRUE)
ON CONFLICT (ticker) DO UPDATE SET is_active = TRUE`

// migrate creates the store schema and optionally seeds active companies.
func main() {
	seed := flag.String("seed", "", "comma separated tickers to register as active companies")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.SetServiceName(cfg.ServiceName + "-migrate")
	if _, err := logger.New(cfg.Log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tickers := models.NormalizeTickers(strings.Split(*seed, ","))
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		err = migratePostgres(ctx, cfg, tickers)
	case config.StoreDriverSQLite:
		err = migrateSQLite(ctx, cfg, tickers)
	default:
		err = errors.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		logger.Fatal("migrate: %v", err)
	}
	logger.Info("schema ready for %s, seeded %d companies", cfg.Store.Driver, len(tickers))
}

func migratePostgres(ctx context.Context, cfg *config.Config, tickers []string) error {
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB, MinConns: 1, MaxConns: 2})
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, storage.Schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	for _, t := range tickers {
		if _, err := pool.Exec(ctx, seedCompanySQL, t, t); err != nil {
			return errors.Wrapf(err, "seed %s", t)
		}
	}
	return nil
}

func migrateSQLite(ctx context.Context, cfg *config.Config, tickers []string) error {
	gdb, err := db.OpenSQLite(cfg.Store.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.CloseSQLite(gdb) }()

	if _, err := storage.NewSQLiteStore(gdb); err != nil {
		return err
	}
	if _, err := watermark.NewSQLite(gdb); err != nil {
		return err
	}
	cs, err := companies.NewSQLite(gdb)
	if err != nil {
		return err
	}
	seeds := make([]models.Company, len(tickers))
	for i, t := range tickers {
		seeds[i] = models.Company{Ticker: t, Name: t, Active: true}
	}
	return cs.Upsert(ctx, seeds...)
}
