package service

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"market_ingest/internal/models"

	"go.uber.org/zap"
)

const (
	FinnhubName = "finnhub"
	dateLayout  = "2006-01-02"
)

// Finnhub serves company news by date interval. The requested interval is walked
// in windows of pageDays, newest window first.
type Finnhub struct {
	c        *client
	pageDays int
}

type finnhubItem struct {
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

func NewFinnhub(opts Options, gov Governor, log *zap.Logger) *Finnhub {
	c := newClient(FinnhubName, opts, gov, log)
	if opts.APIKey != "" {
		c.headers.Set("X-Finnhub-Token", opts.APIKey)
	}
	pageDays := opts.PageDays
	if pageDays <= 0 {
		pageDays = 7
	}
	return &Finnhub{c: c, pageDays: pageDays}
}

func (s *Finnhub) Name() string { return FinnhubName }

func (s *Finnhub) FetchNews(ctx context.Context, ticker string, since time.Time) iter.Seq2[models.RawArticle, error] {
	return func(yield func(models.RawArticle, error) bool) {
		since = since.UTC()
		end := s.c.now().UTC()
		window := time.Duration(s.pageDays) * 24 * time.Hour
		if since.IsZero() {
			since = end.Add(-window)
		}
		// from/to are inclusive dates, so adjacent windows share a day
		seen := make(map[int64]struct{})

		for end.After(since) {
			start := end.Add(-window)
			if start.Before(since) {
				start = since
			}

			q := url.Values{}
			q.Set("symbol", ticker)
			q.Set("from", start.Format(dateLayout))
			q.Set("to", end.Format(dateLayout))

			var items []finnhubItem
			if err := s.c.getJSON(ctx, "/company-news", q, &items); err != nil {
				yield(models.RawArticle{}, err)
				return
			}

			for _, it := range items {
				if it.Datetime < since.Unix() {
					continue
				}
				if it.ID != 0 {
					if _, dup := seen[it.ID]; dup {
						continue
					}
					seen[it.ID] = struct{}{}
				}
				if !yield(finnhubRaw(it), nil) {
					return
				}
			}
			end = start
		}
	}
}

func finnhubRaw(it finnhubItem) models.RawArticle {
	var related []string
	for _, sym := range strings.Split(it.Related, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			related = append(related, sym)
		}
	}
	id := ""
	if it.ID != 0 {
		id = strconv.FormatInt(it.ID, 10)
	}
	return models.RawArticle{
		Provider: FinnhubName,
		ID:       id,
		URL:      it.URL,
		Headline: it.Headline,
		Summary:  it.Summary,
		Source:   it.Source,
		Datetime: it.Datetime,
		Related:  related,
	}
}
