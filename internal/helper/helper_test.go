package helper

import (
	"context"
	"errors"
	"testing"
	"time"

	"market_ingest/internal/models"
)

func TestNormTF(t *testing.T) {
	tests := map[string]string{
		"1H":        "1h",
		"60m":       "1h",
		" candle1D": "1d",
		"1day":      "1d",
		"15m":       "15m",
		"4H":        "4h",
		"1W":        "1w",
	}
	for in, want := range tests {
		if got := NormTF(in); got != want {
			t.Errorf("NormTF(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTimeframeDuration(t *testing.T) {
	if got := TimeframeDuration("1D"); got != 24*time.Hour {
		t.Errorf("TimeframeDuration(1D) = %v", got)
	}
	if got := TimeframeDuration("7x"); got != 0 {
		t.Errorf("TimeframeDuration(7x) = %v, want 0", got)
	}
}

func TestBackoff(t *testing.T) {
	base := 10 * time.Millisecond
	for attempt := 0; attempt < 4; attempt++ {
		min := base << attempt
		max := min + min/4
		got := Backoff(attempt, base)
		if got < min || got > max {
			t.Errorf("Backoff(%d) = %v, want in [%v, %v]", attempt, got, min, max)
		}
	}
	if Backoff(3, 0) != 0 {
		t.Error("zero base should give zero backoff")
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("transient retried until success", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, 3, time.Millisecond, func(context.Context) error {
			calls++
			if calls < 3 {
				return models.Transient("fetch", errors.New("503"))
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("transient exhausted", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, 2, time.Millisecond, func(context.Context) error {
			calls++
			return models.Transient("fetch", errors.New("timeout"))
		})
		if models.KindOf(err) != models.KindTransient {
			t.Errorf("KindOf = %s, want transient", models.KindOf(err))
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})

	t.Run("permanent not retried", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, 5, time.Millisecond, func(context.Context) error {
			calls++
			return models.Permanentf("decode", "bad json")
		})
		if models.KindOf(err) != models.KindPermanent {
			t.Errorf("KindOf = %s, want permanent", models.KindOf(err))
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("cancelled context stops backoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Retry(cctx, 5, time.Hour, func(context.Context) error {
			calls++
			cancel()
			return models.Transient("fetch", errors.New("reset"))
		})
		if err == nil || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})
}
