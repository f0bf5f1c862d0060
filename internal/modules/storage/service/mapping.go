package service

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"market_ingest/internal/helper"
	"market_ingest/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	maxHeadlineRunes = 512
	noTitle          = "(no title)"
)

var maxVolume = decimal.NewFromInt(math.MaxInt64)

// ArticleFromRaw maps a provider record fetched for ticker onto an Article.
// Records without a usable URL are rejected as permanent.
func (e *Engine) ArticleFromRaw(raw models.RawArticle, ticker string) (*models.Article, error) {
	key, err := e.urls.Normalize(raw.URL)
	if err != nil {
		return nil, err
	}
	source := strings.TrimSpace(raw.Source)
	if source == "" {
		source = raw.Provider
	}
	return &models.Article{
		URLKey:      key,
		URL:         strings.TrimSpace(raw.URL),
		Headline:    headline(raw.Headline),
		Summary:     strings.TrimSpace(raw.Summary),
		Source:      source,
		Provider:    raw.Provider,
		PublishedAt: raw.PublishedTime(),
		Tickers:     []string{models.NormalizeTicker(ticker)},
		IngestedAt:  e.now().UTC(),
	}, nil
}

func headline(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return noTitle
	}
	if utf8.RuneCountInString(s) > maxHeadlineRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxHeadlineRunes]))
	}
	return s
}

// CandleFromRaw parses and validates a provider bar.
func CandleFromRaw(raw models.RawCandle) (*models.MarketCandle, error) {
	const op = "map candle"
	start, err := raw.StartTime()
	if err != nil {
		return nil, err
	}

	var prices [4]decimal.Decimal
	for i, s := range []string{raw.Open, raw.High, raw.Low, raw.Close} {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, models.Permanent(op, errors.Wrapf(err, "price %q", s))
		}
		prices[i] = d
	}

	var volume int64
	if v := strings.TrimSpace(raw.Volume); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, models.Permanent(op, errors.Wrapf(err, "volume %q", v))
		}
		if d.GreaterThan(maxVolume) {
			return nil, models.Permanentf(op, "volume %q out of range", v)
		}
		// fractional volumes (crypto base units) are truncated
		volume = d.IntPart()
	}

	c := &models.MarketCandle{
		Ticker:    models.NormalizeTicker(raw.Ticker),
		Timeframe: helper.NormTF(raw.Timeframe),
		Start:     start.UTC().Truncate(time.Second),
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    volume,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
