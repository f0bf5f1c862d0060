package models

import (
	"sort"
	"strings"
)

// Company is a tracked instrument. Seeded externally, read-only here.
type Company struct {
	Ticker string
	Name   string
	Active bool
}

// NormalizeTicker trims and upper-cases a ticker symbol.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeTickers returns the upper-cased, deduplicated and sorted set of tickers.
// Blank entries are dropped.
func NormalizeTickers(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = NormalizeTicker(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
