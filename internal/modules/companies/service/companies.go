package service

import (
	"context"

	"market_ingest/internal/models"
	"market_ingest/pkg/db"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Source lists the tickers a run fetches for.
type Source interface {
	// ActiveTickers returns upper-cased, deduplicated, sorted tickers.
	ActiveTickers(ctx context.Context) ([]string, error)
}

// Static serves a configured list.
type Static struct {
	tickers []string
}

func NewStatic(tickers []string) *Static {
	return &Static{tickers: models.NormalizeTickers(tickers)}
}

func (s *Static) ActiveTickers(context.Context) ([]string, error) {
	out := make([]string, len(s.tickers))
	copy(out, s.tickers)
	return out, nil
}

const activeTickersSQL = `SELECT ticker FROM companies WHERE is_active`

// Pg reads the companies table.
type Pg struct {
	tx db.TxManager
}

func NewPg(tx db.TxManager) *Pg {
	return &Pg{tx: tx}
}

func (p *Pg) ActiveTickers(ctx context.Context) (tickers []string, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "companies.Pg.ActiveTickers")
		}
	}()
	if m, ok := p.tx.(*db.PgTxManager); ok && !m.Configured() {
		return nil, db.ErrNotConfigured
	}

	rows, err := p.tx.Conn().Query(ctx, activeTickersSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raw []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		raw = append(raw, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return models.NormalizeTickers(raw), nil
}

type companyRow struct {
	Ticker   string `gorm:"primaryKey"`
	Name     string `gorm:"not null;default:''"`
	IsActive bool   `gorm:"not null;index"`
}

func (companyRow) TableName() string { return "companies" }

// SQLite reads the companies table of the local store.
type SQLite struct {
	db *gorm.DB
}

func NewSQLite(gdb *gorm.DB) (*SQLite, error) {
	if gdb == nil {
		return nil, db.ErrNotConfigured
	}
	if err := gdb.AutoMigrate(&companyRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate companies")
	}
	return &SQLite{db: gdb}, nil
}

func (s *SQLite) ActiveTickers(ctx context.Context) ([]string, error) {
	var raw []string
	err := s.db.WithContext(ctx).Model(&companyRow{}).Where("is_active = ?", true).Pluck("ticker", &raw).Error
	if err != nil {
		return nil, errors.Wrap(err, "companies.SQLite.ActiveTickers")
	}
	return models.NormalizeTickers(raw), nil
}

// Upsert registers or updates companies. Seeding is done outside the
// pipelines, this exists for local setups and tests.
func (s *SQLite) Upsert(ctx context.Context, companies ...models.Company) error {
	for _, c := range companies {
		row := companyRow{Ticker: models.NormalizeTicker(c.Ticker), Name: c.Name, IsActive: c.Active}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&row).Error
		if err != nil {
			return errors.Wrapf(err, "companies.SQLite.Upsert %s", c.Ticker)
		}
	}
	return nil
}
