package service

import (
	"context"
	"time"

	"market_ingest/internal/models"
	"market_ingest/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	loadWatermarksSQL = `
SELECT pipeline, ticker, watermark FROM ingestion_watermarks WHERE pipeline = ANY($1)`

	saveWatermarkSQL = `
INSERT INTO ingestion_watermarks (pipeline, ticker, watermark, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (pipeline, ticker) DO UPDATE
SET watermark = GREATEST(ingestion_watermarks.watermark, EXCLUDED.watermark), updated_at = now()`
)

type Pg struct {
	tx db.TxManager
}

func NewPg(tx db.TxManager) *Pg {
	return &Pg{tx: tx}
}

func (p *Pg) Load(ctx context.Context, pipelines ...string) (marks map[models.WatermarkKey]time.Time, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "watermark.Pg.Load")
		}
	}()
	if m, ok := p.tx.(*db.PgTxManager); ok && !m.Configured() {
		return nil, db.ErrNotConfigured
	}

	rows, err := p.tx.Conn().Query(ctx, loadWatermarksSQL, pipelines)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	marks = make(map[models.WatermarkKey]time.Time)
	for rows.Next() {
		var k models.WatermarkKey
		var at time.Time
		if err := rows.Scan(&k.Pipeline, &k.Ticker, &at); err != nil {
			return nil, err
		}
		marks[k] = at.UTC()
	}
	return marks, rows.Err()
}

func (p *Pg) Save(ctx context.Context, marks map[models.WatermarkKey]time.Time) error {
	if len(marks) == 0 {
		return nil
	}
	err := p.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for k, at := range marks {
			batch.Queue(saveWatermarkSQL, k.Pipeline, k.Ticker, at.UTC())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return errors.Wrap(err, "watermark.Pg.Save")
}
