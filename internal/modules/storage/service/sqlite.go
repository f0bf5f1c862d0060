package service

import (
	"context"
	"strings"
	"time"

	"market_ingest/internal/models"
	"market_ingest/pkg/db"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type articleRow struct {
	ID                  uint       `gorm:"primaryKey"`
	URLKey              string     `gorm:"column:url_key;uniqueIndex;not null"`
	URL                 string     `gorm:"not null"`
	Headline            string     `gorm:"size:512;not null"`
	Summary             string     `gorm:"not null;default:''"`
	Source              string     `gorm:"not null"`
	Provider            string     `gorm:"not null"`
	PublishedAt         *time.Time `gorm:"index"`
	SentimentLabel      *string
	SentimentConfidence *float64
	SentimentModel      *string
	SentimentAt         *time.Time
	IngestedAt          time.Time `gorm:"not null"`
}

func (articleRow) TableName() string { return "articles" }

type articleTickerRow struct {
	URLKey string `gorm:"column:url_key;primaryKey"`
	Ticker string `gorm:"primaryKey;index"`
}

func (articleTickerRow) TableName() string { return "article_tickers" }

// Prices are stored as text so SQLite's numeric affinity cannot round them.
type candleRow struct {
	Ticker    string    `gorm:"primaryKey"`
	Timeframe string    `gorm:"primaryKey"`
	BarStart  time.Time `gorm:"primaryKey"`
	Open      string    `gorm:"type:text;not null"`
	High      string    `gorm:"type:text;not null"`
	Low       string    `gorm:"type:text;not null"`
	Close     string    `gorm:"type:text;not null"`
	Volume    int64     `gorm:"not null"`
	UpdatedAt time.Time
}

func (candleRow) TableName() string { return "market_candles" }

// SQLiteStore implements Store through gorm. It is meant for local runs and tests.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(gdb *gorm.DB) (*SQLiteStore, error) {
	if gdb == nil {
		return nil, db.ErrNotConfigured
	}
	if err := gdb.AutoMigrate(&articleRow{}, &articleTickerRow{}, &candleRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate sqlite store")
	}
	return &SQLiteStore{db: gdb}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return db.PingSQLite(ctx, s.db) }

func (s *SQLiteStore) UpsertArticle(ctx context.Context, a *models.Article) (out models.Outcome, err error) {
	label, confidence, model, at := sentimentArgs(a.Sentiment)
	row := articleRow{
		URLKey:              a.URLKey,
		URL:                 a.URL,
		Headline:            a.Headline,
		Summary:             a.Summary,
		Source:              a.Source,
		Provider:            a.Provider,
		PublishedAt:         nullTime(a.PublishedAt),
		SentimentLabel:      label,
		SentimentConfidence: confidence,
		SentimentModel:      model,
		SentimentAt:         at,
		IngestedAt:          a.IngestedAt.UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url_key"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return errors.Wrap(res.Error, "insert article")
		}

		switch {
		case res.RowsAffected == 1:
			out = models.OutcomeInserted
		case a.Sentiment != nil:
			res = tx.Model(&articleRow{}).
				Where("url_key = ? AND sentiment_label IS NULL", a.URLKey).
				Updates(map[string]any{
					"sentiment_label":      label,
					"sentiment_confidence": confidence,
					"sentiment_model":      model,
					"sentiment_at":         at,
				})
			if res.Error != nil {
				return errors.Wrap(res.Error, "fill sentiment")
			}
			out = models.OutcomeDuplicate
			if res.RowsAffected == 1 {
				out = models.OutcomeEnriched
			}
		default:
			out = models.OutcomeDuplicate
		}

		for _, ticker := range a.Tickers {
			link := articleTickerRow{URLKey: a.URLKey, Ticker: ticker}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return errors.Wrapf(err, "link ticker %s", ticker)
			}
		}
		return nil
	})
	if err != nil {
		return "", classifySQLiteErr("SQLiteStore.UpsertArticle", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertCandle(ctx context.Context, c *models.MarketCandle) (out models.Outcome, err error) {
	row := candleRow{
		Ticker:    c.Ticker,
		Timeframe: c.Timeframe,
		BarStart:  c.Start.UTC(),
		Open:      c.Open.String(),
		High:      c.High.String(),
		Low:       c.Low.String(),
		Close:     c.Close.String(),
		Volume:    c.Volume,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return errors.Wrap(res.Error, "insert candle")
		}
		if res.RowsAffected == 1 {
			out = models.OutcomeInserted
			return nil
		}

		res = tx.Model(&candleRow{}).
			Where("ticker = ? AND timeframe = ? AND bar_start = ?", row.Ticker, row.Timeframe, row.BarStart).
			Updates(map[string]any{
				"open":       row.Open,
				"high":       row.High,
				"low":        row.Low,
				"close":      row.Close,
				"volume":     row.Volume,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "overwrite candle")
		}
		out = models.OutcomeUpdated
		return nil
	})
	if err != nil {
		return "", classifySQLiteErr("SQLiteStore.UpsertCandle", err)
	}
	return out, nil
}

// Candles returns the stored bars of one series ordered by start.
func (s *SQLiteStore) Candles(ctx context.Context, ticker, timeframe string) ([]models.MarketCandle, error) {
	var rows []candleRow
	err := s.db.WithContext(ctx).
		Where("ticker = ? AND timeframe = ?", ticker, timeframe).
		Order("bar_start").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "SQLiteStore.Candles")
	}
	out := make([]models.MarketCandle, 0, len(rows))
	for _, r := range rows {
		c := models.MarketCandle{Ticker: r.Ticker, Timeframe: r.Timeframe, Start: r.BarStart.UTC(), Volume: r.Volume}
		for _, p := range []struct {
			dst *decimal.Decimal
			src string
		}{{&c.Open, r.Open}, {&c.High, r.High}, {&c.Low, r.Low}, {&c.Close, r.Close}} {
			if *p.dst, err = decimal.NewFromString(p.src); err != nil {
				return nil, errors.Wrap(err, "SQLiteStore.Candles")
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Article loads a stored article with its ticker associations.
func (s *SQLiteStore) Article(ctx context.Context, urlKey string) (*models.Article, error) {
	var row articleRow
	if err := s.db.WithContext(ctx).Where("url_key = ?", urlKey).Take(&row).Error; err != nil {
		return nil, errors.Wrap(err, "SQLiteStore.Article")
	}
	var links []articleTickerRow
	if err := s.db.WithContext(ctx).Where("url_key = ?", urlKey).Order("ticker").Find(&links).Error; err != nil {
		return nil, errors.Wrap(err, "SQLiteStore.Article")
	}

	a := &models.Article{
		URLKey:     row.URLKey,
		URL:        row.URL,
		Headline:   row.Headline,
		Summary:    row.Summary,
		Source:     row.Source,
		Provider:   row.Provider,
		IngestedAt: row.IngestedAt,
	}
	if row.PublishedAt != nil {
		a.PublishedAt = row.PublishedAt.UTC()
	}
	if row.SentimentLabel != nil {
		a.Sentiment = &models.Sentiment{Label: models.SentimentLabel(*row.SentimentLabel)}
		if row.SentimentConfidence != nil {
			a.Sentiment.Confidence = *row.SentimentConfidence
		}
		if row.SentimentModel != nil {
			a.Sentiment.Model = *row.SentimentModel
		}
		if row.SentimentAt != nil {
			a.Sentiment.At = row.SentimentAt.UTC()
		}
	}
	for _, l := range links {
		a.Tickers = append(a.Tickers, l.Ticker)
	}
	return a, nil
}

// CountArticles reports the number of stored articles.
func (s *SQLiteStore) CountArticles(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&articleRow{}).Count(&n).Error
	return n, errors.Wrap(err, "SQLiteStore.CountArticles")
}

func classifySQLiteErr(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &models.ConstraintViolationError{Key: op, Err: err}
	case strings.Contains(err.Error(), "database is locked"), strings.Contains(err.Error(), "busy"):
		return models.Transient(op, err)
	}
	return models.Permanent(op, err)
}
