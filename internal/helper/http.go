package helper

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"market_ingest/internal/models"
)

const DefaultRetryAfter = time.Second

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// CheckStatus maps a provider answer onto the error taxonomy: 429 is rate limited,
// 5xx transient, other 4xx permanent. 2xx and 3xx return nil.
func CheckStatus(provider, op string, resp *http.Response, body []byte, now time.Time) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &models.RateLimitedError{
			Provider:   provider,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), now),
		}
	case resp.StatusCode >= 500:
		return models.Transient(op, &StatusError{StatusCode: resp.StatusCode, Body: truncate(body)})
	case resp.StatusCode >= 400:
		return models.Permanent(op, &StatusError{StatusCode: resp.StatusCode, Body: truncate(body)})
	}
	return nil
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
