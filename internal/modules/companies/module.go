package companies

import (
	"market_ingest/internal/modules/companies/service"
	"market_ingest/internal/modules/config"
	"market_ingest/pkg/db"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func Module() fx.Option {
	return fx.Module("companies",
		fx.Provide(NewSource),
	)
}

func NewSource(cfg *config.Config, pg *db.PgTxManager, gdb *gorm.DB) (service.Source, error) {
	switch cfg.Companies.Source {
	case config.CompaniesPostgres:
		return service.NewPg(pg), nil
	case config.CompaniesSQLite:
		return service.NewSQLite(gdb)
	case config.CompaniesStatic:
		return service.NewStatic(cfg.Companies.Tickers), nil
	}
	return nil, errors.Errorf("unknown companies source %q", cfg.Companies.Source)
}
