package service

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"time"

	"market_ingest/internal/models"

	"go.uber.org/zap"
)

const NewsAPIName = "newsapi"

// NewsAPI is a cursor-paginated news provider: each page carries next_cursor
// until the result set is exhausted.
type NewsAPI struct {
	c        *client
	pageSize int
}

type newsAPIPage struct {
	Data []struct {
		UUID        string   `json:"uuid"`
		URL         string   `json:"url"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Source      string   `json:"source"`
		PublishedAt string   `json:"published_at"`
		Symbols     []string `json:"symbols"`
	} `json:"data"`
	NextCursor string `json:"next_cursor"`
}

func NewNewsAPI(opts Options, gov Governor, log *zap.Logger) *NewsAPI {
	c := newClient(NewsAPIName, opts, gov, log)
	if opts.APIKey != "" {
		c.headers.Set("Authorization", "Bearer "+opts.APIKey)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &NewsAPI{c: c, pageSize: pageSize}
}

func (s *NewsAPI) Name() string { return NewsAPIName }

func (s *NewsAPI) FetchNews(ctx context.Context, ticker string, since time.Time) iter.Seq2[models.RawArticle, error] {
	return func(yield func(models.RawArticle, error) bool) {
		cursor := ""
		for {
			q := url.Values{}
			q.Set("symbols", ticker)
			q.Set("published_after", since.UTC().Format(time.RFC3339))
			q.Set("limit", strconv.Itoa(s.pageSize))
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			var page newsAPIPage
			if err := s.c.getJSON(ctx, "/news", q, &page); err != nil {
				yield(models.RawArticle{}, err)
				return
			}

			for _, it := range page.Data {
				raw := models.RawArticle{
					Provider:  NewsAPIName,
					ID:        it.UUID,
					URL:       it.URL,
					Headline:  it.Title,
					Summary:   it.Description,
					Source:    it.Source,
					Published: it.PublishedAt,
					Related:   it.Symbols,
				}
				if pt := raw.PublishedTime(); !pt.IsZero() && pt.Before(since) {
					continue
				}
				if !yield(raw, nil) {
					return
				}
			}

			if page.NextCursor == "" || page.NextCursor == cursor || len(page.Data) == 0 {
				return
			}
			cursor = page.NextCursor
		}
	}
}
