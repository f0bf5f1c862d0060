package models

import (
	"reflect"
	"testing"
	"time"
)

func TestParseSentimentLabel(t *testing.T) {
	tests := []struct {
		in   string
		want SentimentLabel
		ok   bool
	}{
		{"Positive", SentimentPositive, true},
		{" negative. ", SentimentNegative, true},
		{"NEUTRAL", SentimentNeutral, true},
		{"Good", SentimentPositive, true},
		{"maybe", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseSentimentLabel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseSentimentLabel(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRawArticlePublishedTime(t *testing.T) {
	epoch := RawArticle{Datetime: 1757080800}
	if got := epoch.PublishedTime(); !got.Equal(time.Unix(1757080800, 0)) || got.Location() != time.UTC {
		t.Errorf("PublishedTime() = %v", got)
	}

	text := RawArticle{Published: "2025-09-05T14:00:00+02:00"}
	want := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)
	if got := text.PublishedTime(); !got.Equal(want) {
		t.Errorf("PublishedTime() = %v, want %v", got, want)
	}

	if got := (RawArticle{Published: "yesterday"}).PublishedTime(); !got.IsZero() {
		t.Errorf("PublishedTime() = %v, want zero", got)
	}
}

func TestNormalizeTickers(t *testing.T) {
	got := NormalizeTickers([]string{" msft", "AAPL", "aapl", "", "Goog "})
	want := []string{"AAPL", "GOOG", "MSFT"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeTickers() = %v, want %v", got, want)
	}
}
