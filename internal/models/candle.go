package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketCandle is one OHLC bar, identified by (Ticker, Timeframe, Start).
type MarketCandle struct {
	Ticker    string
	Timeframe string
	Start     time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Validate enforces high >= max(open, close), low <= min(open, close), high >= low.
func (c MarketCandle) Validate() error {
	const op = "validate candle"
	if c.Ticker == "" || c.Timeframe == "" || c.Start.IsZero() {
		return Permanentf(op, "missing identity (ticker=%q timeframe=%q start=%v)", c.Ticker, c.Timeframe, c.Start)
	}
	prices := []struct {
		name string
		v    decimal.Decimal
	}{{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}}
	for _, p := range prices {
		if !p.v.IsPositive() {
			return Permanentf(op, "%s must be positive, got %s", p.name, p.v)
		}
	}
	if c.Volume < 0 {
		return Permanentf(op, "negative volume %d", c.Volume)
	}
	if c.High.LessThan(c.Low) {
		return Permanentf(op, "high %s < low %s", c.High, c.Low)
	}
	if c.High.LessThan(decimal.Max(c.Open, c.Close)) {
		return Permanentf(op, "high %s below open/close", c.High)
	}
	if c.Low.GreaterThan(decimal.Min(c.Open, c.Close)) {
		return Permanentf(op, "low %s above open/close", c.Low)
	}
	return nil
}

// RawCandle is a provider bar before mapping. Prices stay in their wire form.
// Providers fill either TsMillis or Time (ISO 8601).
type RawCandle struct {
	Provider  string
	Ticker    string
	Timeframe string
	TsMillis  int64
	Time      string
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
}

// TimeRange is a half-open interval [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

var barTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseBarTime reads an ISO 8601 timestamp. "Z" and numeric offsets are honored,
// timestamps without a zone are taken as UTC.
func ParseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range barTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, Permanentf("parse bar time", "unrecognized timestamp %q", s)
}

// StartTime resolves whichever timestamp the provider sent.
func (r RawCandle) StartTime() (time.Time, error) {
	if r.TsMillis > 0 {
		return time.UnixMilli(r.TsMillis).UTC(), nil
	}
	return ParseBarTime(r.Time)
}
