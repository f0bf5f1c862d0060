package service

import (
	"bytes"
	"context"
	"iter"
	"os"
	"path/filepath"
	"sort"

	"market_ingest/internal/helper"
	"market_ingest/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const FileName = "file"

// File reads candle exports from a directory. Files are named
// <TICKER>_<timeframe>*.json, e.g. AAPL_1h_7d.json, and hold a JSON list of
// {time, open, high, low, close, volume}.
type File struct {
	dir string
	log *zap.Logger
}

type fileCandle struct {
	Time   string     `json:"time"`
	Open   jsonNumber `json:"open"`
	High   jsonNumber `json:"high"`
	Low    jsonNumber `json:"low"`
	Close  jsonNumber `json:"close"`
	Volume jsonNumber `json:"volume"`
}

// jsonNumber keeps a numeric or quoted JSON value in its textual form.
type jsonNumber string

func (n *jsonNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	*n = jsonNumber(bytes.Trim(b, `"`))
	return nil
}

func NewFile(dir string, log *zap.Logger) *File {
	if log == nil {
		log = zap.NewNop()
	}
	return &File{dir: dir, log: log.Named(FileName)}
}

func (s *File) Name() string { return FileName }

func (s *File) FetchCandles(ctx context.Context, ticker, timeframe string, r models.TimeRange) iter.Seq2[models.RawCandle, error] {
	return func(yield func(models.RawCandle, error) bool) {
		if info, err := os.Stat(s.dir); err != nil || !info.IsDir() {
			yield(models.RawCandle{}, models.Permanentf("file candles", "invalid folder %q", s.dir))
			return
		}
		tf := helper.NormTF(timeframe)
		matches, err := filepath.Glob(filepath.Join(s.dir, ticker+"_"+tf+"*.json"))
		if err != nil {
			yield(models.RawCandle{}, models.Permanent("file candles", err))
			return
		}
		if len(matches) == 0 {
			s.log.Debug("no candle file", zap.String("ticker", ticker), zap.String("timeframe", tf))
			return
		}
		sort.Strings(matches)

		for _, path := range matches {
			if err := ctx.Err(); err != nil {
				yield(models.RawCandle{}, err)
				return
			}
			items, err := readCandleFile(path)
			if err != nil {
				yield(models.RawCandle{}, err)
				return
			}
			for _, it := range items {
				if it.Time == "" {
					continue
				}
				if start, err := models.ParseBarTime(it.Time); err == nil && !r.Contains(start) {
					continue
				}
				raw := models.RawCandle{
					Provider:  FileName,
					Ticker:    ticker,
					Timeframe: tf,
					Time:      it.Time,
					Open:      string(it.Open),
					High:      string(it.High),
					Low:       string(it.Low),
					Close:     string(it.Close),
					Volume:    string(it.Volume),
				}
				if !yield(raw, nil) {
					return
				}
			}
		}
	}
}

func readCandleFile(path string) ([]fileCandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.Permanent("file candles", errors.Wrapf(err, "read %s", path))
	}
	var items []fileCandle
	if err := sonic.Unmarshal(data, &items); err != nil {
		return nil, models.Permanent("file candles", errors.Wrapf(err, "%s must be a JSON list of objects", filepath.Base(path)))
	}
	return items, nil
}
