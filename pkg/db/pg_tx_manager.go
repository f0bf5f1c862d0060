package db

import (
	"context"
	"errors"
	"fmt"
	"market_ingest/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured is returned by a manager built without a DSN or path.
var ErrNotConfigured = errors.New("database is not configured")

type PoolConfig struct {
	DSN      string
	MinConns int
	MaxConns int
}

type PgTxManager struct {
	poolMaster *pgxpool.Pool
}

func NewPgTxManager(poolMaster *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{
		poolMaster: poolMaster,
	}
}

func (m *PgTxManager) Close() {
	if m.poolMaster != nil {
		m.poolMaster.Close()
	}
}

// NewPool parses the DSN and creates a pool. Connections are opened lazily.
func NewPool(ctx context.Context, conf PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if conf.MinConns > 0 {
		poolCfg.MinConns = int32(conf.MinConns)
	}
	if conf.MaxConns > 0 {
		poolCfg.MaxConns = int32(conf.MaxConns)
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func (m *PgTxManager) Configured() bool { return m.poolMaster != nil }

func (m *PgTxManager) Ping(ctx context.Context) error {
	if m.poolMaster == nil {
		return ErrNotConfigured
	}
	return m.poolMaster.Ping(ctx)
}

func (m *PgTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error {
	if m.poolMaster == nil {
		return ErrNotConfigured
	}
	options := pgx.TxOptions{
		IsoLevel: pgx.ReadCommitted,
	}
	return m.inTx(ctx, m.poolMaster, options, fn)
}

func (m *PgTxManager) Conn() Transaction {
	return m.poolMaster
}

func (m *PgTxManager) inTx(
	ctx context.Context,
	pool *pgxpool.Pool,
	options pgx.TxOptions,
	f func(ctxTx context.Context, tx pgx.Tx) error,
) (err error) {
	tx, err := pool.BeginTx(ctx, options)
	if err != nil {
		return fmt.Errorf("failed to begin tx, err: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("rollback on panic: %v", p)
			_ = tx.Rollback(ctx)
			panic(p) // fallthrough panic after rollback on caught panic
		} else if err != nil {
			_ = tx.Rollback(ctx) // if error during computations
		} else {
			err = tx.Commit(ctx) // all good
		}
	}()

	err = f(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to run fn, err: %w", err)
	}

	return nil
}
