package service

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"market_ingest/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const OKXName = "okx"

// OKX pages history-candles newest first, the after cursor asks for bars
// strictly older than the given millisecond timestamp.
type OKX struct {
	c        *client
	pageSize int
}

type okxCandlesResp struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

func NewOKX(opts Options, gov Governor, log *zap.Logger) *OKX {
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &OKX{c: newClient(OKXName, opts, gov, log), pageSize: pageSize}
}

func (s *OKX) Name() string { return OKXName }

// FetchCandles rows: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
func (s *OKX) FetchCandles(ctx context.Context, ticker, timeframe string, r models.TimeRange) iter.Seq2[models.RawCandle, error] {
	return func(yield func(models.RawCandle, error) bool) {
		bar, err := okxBar(timeframe)
		if err != nil {
			yield(models.RawCandle{}, models.Permanent("okx candles", err))
			return
		}
		from := r.From.UnixMilli()
		after := r.To.UnixMilli()

		for {
			q := url.Values{}
			q.Set("instId", ticker)
			q.Set("bar", bar)
			q.Set("after", strconv.FormatInt(after, 10))
			q.Set("limit", strconv.Itoa(s.pageSize))

			var resp okxCandlesResp
			if err := s.c.getJSON(ctx, "/api/v5/market/history-candles", q, &resp); err != nil {
				yield(models.RawCandle{}, err)
				return
			}
			if resp.Code != "0" {
				yield(models.RawCandle{}, models.Permanentf("okx candles", "code=%s msg=%s", resp.Code, resp.Msg))
				return
			}

			oldest := after
			for _, row := range resp.Data {
				if len(row) < 6 {
					yield(models.RawCandle{}, models.Permanentf("okx candles", "short row %v", row))
					return
				}
				ts, err := strconv.ParseInt(row[0], 10, 64)
				if err != nil {
					yield(models.RawCandle{}, models.Permanent("okx candles", errors.Wrap(err, "parse ts")))
					return
				}
				if ts < oldest {
					oldest = ts
				}
				if ts < from || ts >= after {
					continue
				}
				raw := models.RawCandle{
					Provider:  OKXName,
					Ticker:    ticker,
					Timeframe: timeframe,
					TsMillis:  ts,
					Open:      row[1],
					High:      row[2],
					Low:       row[3],
					Close:     row[4],
					Volume:    row[5],
				}
				if !yield(raw, nil) {
					return
				}
			}

			if len(resp.Data) < s.pageSize || oldest <= from || oldest >= after {
				return
			}
			after = oldest
		}
	}
}

func okxBar(tf string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(tf))
	switch s {
	case "1m", "3m", "5m", "15m", "30m":
		return s, nil
	case "60m", "1h":
		return "1H", nil
	case "2h":
		return "2H", nil
	case "4h":
		return "4H", nil
	case "6h":
		return "6H", nil
	case "12h":
		return "12H", nil
	case "1d":
		return "1D", nil
	case "1w":
		return "1W", nil
	case "1mo", "1mth":
		return "1M", nil
	case "6hutc":
		return "6Hutc", nil
	case "12hutc":
		return "12Hutc", nil
	case "1dutc":
		return "1Dutc", nil
	case "1wutc":
		return "1Wutc", nil
	}
	return "", errors.Errorf("unsupported timeframe %q", tf)
}
