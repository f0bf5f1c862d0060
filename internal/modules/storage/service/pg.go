package service

import (
	"context"
	_ "embed"
	"time"

	"market_ingest/internal/models"
	"market_ingest/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Schema is the Postgres DDL, applied by cmd/migrate.
//
//go:embed schema.sql
var Schema string

const (
	insertArticleSQL = `
INSERT INTO articles (url_key, url, headline, summary, source, provider, published_at,
                      sentiment_label, sentiment_confidence, sentiment_model, sentiment_at, ingested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (url_key) DO NOTHING`

	fillSentimentSQL = `
UPDATE articles
SET sentiment_label = $2, sentiment_confidence = $3, sentiment_model = $4, sentiment_at = $5
WHERE url_key = $1 AND sentiment_label IS NULL`

	insertArticleTickerSQL = `
INSERT INTO article_tickers (url_key, ticker) VALUES ($1, $2)
ON CONFLICT DO NOTHING`

	upsertCandleSQL = `
INSERT INTO market_candles (ticker, timeframe, bar_start, open, high, low, close, volume, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (ticker, timeframe, bar_start) DO UPDATE
SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close,
    volume = EXCLUDED.volume, updated_at = now()
RETURNING (xmax = 0) AS inserted`
)

// PgStore implements Store on Postgres.
type PgStore struct {
	tx db.TxManager
}

func NewPgStore(tx db.TxManager) *PgStore {
	return &PgStore{tx: tx}
}

func (s *PgStore) Ping(ctx context.Context) error { return s.tx.Ping(ctx) }

func (s *PgStore) UpsertArticle(ctx context.Context, a *models.Article) (out models.Outcome, err error) {
	defer func() {
		if err != nil {
			err = classifyPgErr("PgStore.UpsertArticle", err)
		}
	}()

	label, confidence, model, at := sentimentArgs(a.Sentiment)
	err = s.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertArticleSQL,
			a.URLKey, a.URL, a.Headline, a.Summary, a.Source, a.Provider, nullTime(a.PublishedAt),
			label, confidence, model, at, a.IngestedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert article")
		}

		switch {
		case tag.RowsAffected() == 1:
			out = models.OutcomeInserted
		case a.Sentiment != nil:
			tag, err = tx.Exec(ctx, fillSentimentSQL, a.URLKey, label, confidence, model, at)
			if err != nil {
				return errors.Wrap(err, "fill sentiment")
			}
			out = models.OutcomeDuplicate
			if tag.RowsAffected() == 1 {
				out = models.OutcomeEnriched
			}
		default:
			out = models.OutcomeDuplicate
		}

		for _, ticker := range a.Tickers {
			if _, err := tx.Exec(ctx, insertArticleTickerSQL, a.URLKey, ticker); err != nil {
				return errors.Wrapf(err, "link ticker %s", ticker)
			}
		}
		return nil
	})
	return out, err
}

func (s *PgStore) UpsertCandle(ctx context.Context, c *models.MarketCandle) (out models.Outcome, err error) {
	err = s.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var inserted bool
		err := tx.QueryRow(ctx, upsertCandleSQL,
			c.Ticker, c.Timeframe, c.Start, c.Open, c.High, c.Low, c.Close, c.Volume,
		).Scan(&inserted)
		if err != nil {
			return errors.Wrap(err, "upsert candle")
		}
		out = models.OutcomeUpdated
		if inserted {
			out = models.OutcomeInserted
		}
		return nil
	})
	if err != nil {
		return "", classifyPgErr("PgStore.UpsertCandle", err)
	}
	return out, nil
}

func sentimentArgs(s *models.Sentiment) (label *string, confidence *float64, model *string, at *time.Time) {
	if s == nil {
		return nil, nil, nil, nil
	}
	l := string(s.Label)
	c := s.Confidence
	m := s.Model
	t := s.At.UTC()
	return &l, &c, &m, &t
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// classifyPgErr maps driver failures onto the error taxonomy: integrity and
// data errors are permanent, connection and resource errors transient.
func classifyPgErr(op string, err error) error {
	if errors.Is(err, db.ErrNotConfigured) {
		return models.Fatal("postgres store", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) == 5 {
		switch pgErr.Code[:2] {
		case "23":
			if pgErr.Code == "23505" {
				return &models.ConstraintViolationError{Key: pgErr.ConstraintName, Err: err}
			}
			return models.Permanent(op, err)
		case "08", "40", "53", "57":
			return models.Transient(op, err)
		}
		return models.Permanent(op, err)
	}
	return models.Transient(op, err)
}
