package postgres

import (
	"context"

	"market_ingest/internal/modules/config"
	"market_ingest/pkg/db"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides *db.PgTxManager. Without a DSN the manager has no pool and
// every call returns db.ErrNotConfigured.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config, log *zap.Logger) (*db.PgTxManager, error) {
				if cfg.DB == "" {
					return db.NewPgTxManager(nil), nil
				}
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN:      cfg.DB,
					MinConns: cfg.DBMinCon,
					MaxConns: cfg.DBMaxCon,
				})
				if err != nil {
					return nil, errors.Wrap(err, "failed to create poolMaster")
				}

				m := db.NewPgTxManager(poolMaster)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						log.Info("closing postgres pool")
						m.Close()
						return nil
					},
				})
				return m, nil
			},
		),
	)
}
