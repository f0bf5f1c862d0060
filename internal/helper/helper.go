package helper

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"market_ingest/internal/models"
)

// NormTF maps provider and user spellings of a bar size onto one form: 1m, 1h, 1d...
func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h", "1hour":
		return "1h"
	case "240m", "4h":
		return "4h"
	case "1440m", "24h", "1d", "1day", "d":
		return "1d"
	case "1w", "1wk", "1week", "w":
		return "1w"
	default:
		return s
	}
}

// TimeframeDuration returns the bar length, 0 for unknown timeframes.
func TimeframeDuration(tf string) time.Duration {
	switch NormTF(tf) {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Backoff is base * 2^attempt with up to 25% jitter. attempt starts at 0.
func Backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 16 {
		attempt = 16
	}
	d := base << attempt
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn up to attempts times, backing off between transient failures.
// Non-transient errors are returned immediately.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !models.IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if serr := Sleep(ctx, Backoff(i, base)); serr != nil {
			return err
		}
	}
	return err
}
