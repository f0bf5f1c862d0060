package storage

import (
	"market_ingest/internal/modules/config"
	"market_ingest/internal/modules/storage/service"
	"market_ingest/pkg/db"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			NewStore,
			func(cfg *config.Config, store service.Store, log *zap.Logger) *service.Engine {
				return service.NewEngine(store, cfg.TrackingParams, log)
			},
		),
	)
}

// NewStore picks the backend named by store.driver. The unused handle is nil.
func NewStore(cfg *config.Config, pg *db.PgTxManager, gdb *gorm.DB) (service.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		return service.NewPgStore(pg), nil
	case config.StoreDriverSQLite:
		return service.NewSQLiteStore(gdb)
	}
	return nil, errors.Errorf("unknown store driver %q", cfg.Store.Driver)
}
