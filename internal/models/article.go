package models

import (
	"strings"
	"time"
)

type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// ParseSentimentLabel accepts the labels case-insensitively, "good"/"bad" included.
func ParseSentimentLabel(s string) (SentimentLabel, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), ",.!\"'")) {
	case "positive", "good", "bullish":
		return SentimentPositive, true
	case "negative", "bad", "bearish":
		return SentimentNegative, true
	case "neutral":
		return SentimentNeutral, true
	}
	return "", false
}

// Sentiment is the enrichment result attached to an article.
type Sentiment struct {
	Label      SentimentLabel
	Confidence float64 // 0.0 - 1.0
	Model      string
	At         time.Time
}

// Article is a persisted news item. URLKey is the normalized identity.
type Article struct {
	URLKey      string
	URL         string
	Headline    string
	Summary     string
	Source      string
	Provider    string
	PublishedAt time.Time
	Tickers     []string
	Sentiment   *Sentiment // nil when enrichment failed or has not run
	IngestedAt  time.Time
}

// RawArticle is a provider record before mapping. Providers fill either Datetime
// (unix seconds) or Published (RFC 3339).
type RawArticle struct {
	Provider  string
	ID        string
	URL       string
	Headline  string
	Summary   string
	Source    string
	Datetime  int64
	Published string
	Related   []string
}

// PublishedTime resolves whichever timestamp the provider sent.
func (r RawArticle) PublishedTime() time.Time {
	if r.Datetime > 0 {
		return time.Unix(r.Datetime, 0).UTC()
	}
	if r.Published == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, r.Published); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
