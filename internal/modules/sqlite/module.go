package sqlite

import (
	"context"

	"market_ingest/internal/modules/config"
	"market_ingest/pkg/db"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides the *gorm.DB of store.driver=sqlite, nil for other drivers.
func Module() fx.Option {
	return fx.Module("sqlite",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
				if cfg.Store.Driver != config.StoreDriverSQLite {
					return nil, nil
				}
				gdb, err := db.OpenSQLite(cfg.Store.SQLitePath)
				if err != nil {
					return nil, err
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error { return db.CloseSQLite(gdb) },
				})
				return gdb, nil
			},
		),
	)
}
