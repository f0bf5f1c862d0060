package service

import (
	"context"
	"time"

	"market_ingest/internal/models"
	"market_ingest/pkg/db"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type watermarkRow struct {
	Pipeline  string    `gorm:"primaryKey"`
	Ticker    string    `gorm:"primaryKey"`
	Watermark time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

func (watermarkRow) TableName() string { return "ingestion_watermarks" }

type SQLite struct {
	db *gorm.DB
}

func NewSQLite(gdb *gorm.DB) (*SQLite, error) {
	if gdb == nil {
		return nil, db.ErrNotConfigured
	}
	if err := gdb.AutoMigrate(&watermarkRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate watermarks")
	}
	return &SQLite{db: gdb}, nil
}

func (s *SQLite) Load(ctx context.Context, pipelines ...string) (map[models.WatermarkKey]time.Time, error) {
	var rows []watermarkRow
	if err := s.db.WithContext(ctx).Where("pipeline IN ?", pipelines).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "watermark.SQLite.Load")
	}
	marks := make(map[models.WatermarkKey]time.Time, len(rows))
	for _, r := range rows {
		marks[models.WatermarkKey{Pipeline: r.Pipeline, Ticker: r.Ticker}] = r.Watermark.UTC()
	}
	return marks, nil
}

func (s *SQLite) Save(ctx context.Context, marks map[models.WatermarkKey]time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, at := range marks {
			row := watermarkRow{Pipeline: k.Pipeline, Ticker: k.Ticker, Watermark: at.UTC()}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "pipeline"}, {Name: "ticker"}},
				DoUpdates: clause.Assignments(map[string]any{
					"watermark":  gorm.Expr("MAX(watermark, excluded.watermark)"),
					"updated_at": gorm.Expr("excluded.updated_at"),
				}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "watermark.SQLite.Save")
}
