package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"market_ingest/internal/models"

	"go.uber.org/zap/zaptest"
)

const aaplCandles = `[
	{"time": "2025-09-05T13:00:00Z", "open": 230.1, "high": 231.0, "low": 229.5, "close": 230.7, "volume": 120000},
	{"time": "2025-09-05T14:00:00+00:00", "open": "230.7", "high": "232.2", "low": "230.0", "close": "231.9", "volume": 98000},
	{"time": "2025-09-05T15:00:00", "open": 231.9, "high": 232.0, "low": 231.1, "close": 231.5, "volume": 77000},
	{"open": 1, "high": 1, "low": 1, "close": 1, "volume": 1}
]`

func TestFileFetchCandles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "AAPL_1h_7d.json"), aaplCandles)
	writeFile(t, filepath.Join(dir, "MSFT_1h_7d.json"), `[]`)

	src := NewFile(dir, zaptest.NewLogger(t))
	r := models.TimeRange{
		From: time.Date(2025, 9, 5, 14, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC),
	}

	items, err := collect(src.FetchCandles(context.Background(), "AAPL", "1H", r))
	if err != nil {
		t.Fatalf("FetchCandles error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].Open != "230.7" || items[0].Volume != "98000" || items[0].Timeframe != "1h" {
		t.Errorf("items[0] = %+v", items[0])
	}
	start, err := items[1].StartTime()
	if err != nil || !start.Equal(time.Date(2025, 9, 5, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("naive time = %v, %v; want 15:00 UTC", start, err)
	}
}

func TestFileMissingTickerIsEmpty(t *testing.T) {
	src := NewFile(t.TempDir(), zaptest.NewLogger(t))
	r := models.TimeRange{From: time.Time{}, To: time.Now()}

	items, err := collect(src.FetchCandles(context.Background(), "NVDA", "1h", r))
	if err != nil || len(items) != 0 {
		t.Errorf("items = %v, err = %v; want empty", items, err)
	}
}

func TestFileErrors(t *testing.T) {
	r := models.TimeRange{From: time.Time{}, To: time.Now()}

	t.Run("not a list", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "AAPL_1h.json"), `{"time": "2025-09-05T13:00:00Z"}`)
		_, err := collect(NewFile(dir, nil).FetchCandles(context.Background(), "AAPL", "1h", r))
		if models.KindOf(err) != models.KindPermanent {
			t.Errorf("KindOf = %s, want permanent", models.KindOf(err))
		}
	})

	t.Run("invalid folder", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope")
		_, err := collect(NewFile(missing, nil).FetchCandles(context.Background(), "AAPL", "1h", r))
		if models.KindOf(err) != models.KindPermanent {
			t.Errorf("KindOf = %s, want permanent", models.KindOf(err))
		}
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
