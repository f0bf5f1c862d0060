package service

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"market_ingest/internal/helper"
	"market_ingest/internal/models"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// client is the shared request path of the HTTP adapters: governor permit,
// status classification and transient retries.
type client struct {
	provider   string
	baseURL    string
	http       *http.Client
	gov        Governor
	headers    http.Header
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func newClient(provider string, opts Options, gov Governor, log *zap.Logger) *client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &client{
		provider:   provider,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		gov:        gov,
		headers:    http.Header{"Accept": []string{"application/json"}},
		maxRetries: opts.MaxRetries,
		backoff:    opts.RetryBackoff,
		log:        log.Named(provider),
		now:        time.Now,
	}
}

// getJSON decodes the answer of GET path?query into out. Transient failures are
// retried with backoff, each attempt under its own governor permit.
func (c *client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, c.provider+".get")
	defer span.Finish()
	span.SetTag("path", path)

	var body []byte
	attempt := 0
	err := helper.Retry(ctx, c.maxRetries+1, c.backoff, func(ctx context.Context) error {
		if attempt > 0 {
			c.log.Debug("retrying request", zap.String("path", path), zap.Int("attempt", attempt))
		}
		attempt++
		return c.gov.Do(ctx, c.provider, func(ctx context.Context) error {
			var err error
			body, err = c.do(ctx, path, query)
			return err
		})
	})
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
		return err
	}

	if err := sonic.Unmarshal(body, out); err != nil {
		return models.Permanent(c.provider+" decode", err)
	}
	return nil
}

func (c *client) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	op := c.provider + " GET " + path
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, models.Permanent(op, err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, models.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Transient(op, errors.Wrap(err, "read response"))
	}

	if err := helper.CheckStatus(c.provider, op, resp, body, c.now()); err != nil {
		return nil, err
	}
	return body, nil
}
