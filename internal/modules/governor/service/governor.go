package service

import (
	"context"
	"sync"
	"time"

	"market_ingest/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Budget is a provider allowance of Calls per rolling Window.
type Budget struct {
	Calls  int
	Window time.Duration
}

func (b Budget) unlimited() bool {
	return b.Calls < 1 || b.Window <= 0
}

type Config struct {
	Default             Budget
	Budgets             map[string]Budget
	MaxRateLimitRetries int
}

// provider keeps the grant times of the current window, reservations in the
// future included, sorted ascending.
type provider struct {
	budget      Budget
	grants      []time.Time
	pausedUntil time.Time
	waitLog     rate.Sometimes
}

// reserve books the earliest slot that keeps at most Calls grants inside any
// window of length Window.
func (p *provider) reserve(now time.Time) time.Time {
	if p.budget.unlimited() {
		return now
	}
	keep := p.grants[:0]
	for _, t := range p.grants {
		if t.Add(p.budget.Window).After(now) {
			keep = append(keep, t)
		}
	}
	p.grants = keep

	slot := now
	if n := len(p.grants); n >= p.budget.Calls {
		if s := p.grants[n-p.budget.Calls].Add(p.budget.Window); s.After(slot) {
			slot = s
		}
	}
	p.grants = append(p.grants, slot)
	return slot
}

// release drops an unused reservation.
func (p *provider) release(slot time.Time) {
	for i, t := range p.grants {
		if t.Equal(slot) {
			p.grants = append(p.grants[:i], p.grants[i+1:]...)
			return
		}
	}
}

// Governor hands out request permits per provider. Every caller of the same
// provider shares one bucket; providers never wait on each other.
type Governor struct {
	log        *zap.Logger
	def        Budget
	budgets    map[string]Budget
	maxRetries int

	mu        sync.Mutex
	providers map[string]*provider
}

func New(cfg Config, log *zap.Logger) *Governor {
	if log == nil {
		log = zap.NewNop()
	}
	budgets := make(map[string]Budget, len(cfg.Budgets))
	for name, b := range cfg.Budgets {
		budgets[name] = b
	}
	return &Governor{
		log:        log.Named("governor"),
		def:        cfg.Default,
		budgets:    budgets,
		maxRetries: cfg.MaxRateLimitRetries,
		providers:  make(map[string]*provider),
	}
}

func (g *Governor) get(name string) *provider {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.providers[name]
	if !ok {
		b, ok := g.budgets[name]
		if !ok {
			b = g.def
		}
		p = &provider{budget: b, waitLog: rate.Sometimes{Interval: time.Second}}
		g.providers[name] = p
	}
	return p
}

func (g *Governor) pausedFor(name string, now time.Time) time.Duration {
	p := g.get(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	return p.pausedUntil.Sub(now)
}

// PausedUntil reports the end of the provider's current pause, zero if none was set.
func (g *Governor) PausedUntil(name string) time.Time {
	p := g.get(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	return p.pausedUntil
}

// Pause stops permits for the provider for d. An existing longer pause is kept.
func (g *Governor) Pause(name string, d time.Duration) {
	if d <= 0 {
		return
	}
	p := g.get(name)
	until := time.Now().Add(d)

	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(p.pausedUntil) {
		p.pausedUntil = until
		g.log.Info("provider paused",
			zap.String("provider", name),
			zap.Duration("retry_after", d),
		)
	}
}

// Acquire blocks until a permit for the provider is available. When ctx ends first
// it returns *models.RateLimitTimeoutError.
func (g *Governor) Acquire(ctx context.Context, name string) error {
	if err := g.waitPause(ctx, name); err != nil {
		return err
	}
	if err := g.waitSlot(ctx, name); err != nil {
		return err
	}
	// a pause may have started while we queued for the slot
	return g.waitPause(ctx, name)
}

func (g *Governor) waitSlot(ctx context.Context, name string) error {
	p := g.get(name)
	now := time.Now()

	g.mu.Lock()
	slot := p.reserve(now)
	d := slot.Sub(now)
	if d <= 0 {
		g.mu.Unlock()
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(slot) {
		p.release(slot)
		g.mu.Unlock()
		return &models.RateLimitTimeoutError{Provider: name, Err: context.DeadlineExceeded}
	}
	g.mu.Unlock()

	p.waitLog.Do(func() {
		g.log.Debug("budget exhausted, waiting for window",
			zap.String("provider", name),
			zap.Duration("wait", d),
		)
	})

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		g.mu.Lock()
		p.release(slot)
		g.mu.Unlock()
		return &models.RateLimitTimeoutError{Provider: name, Err: ctx.Err()}
	case <-t.C:
		return nil
	}
}

func (g *Governor) waitPause(ctx context.Context, name string) error {
	for {
		d := g.pausedFor(name, time.Now())
		if d <= 0 {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
			return &models.RateLimitTimeoutError{Provider: name, Err: context.DeadlineExceeded}
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return &models.RateLimitTimeoutError{Provider: name, Err: ctx.Err()}
		case <-t.C:
		}
	}
}

// Do runs fn under a permit. A RateLimited answer pauses the provider for the
// advertised duration and fn is retried, at most MaxRateLimitRetries times.
func (g *Governor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := g.Acquire(ctx, name); err != nil {
			return err
		}
		err := fn(ctx)
		retryAfter, limited := models.RetryAfter(err)
		if !limited {
			return err
		}
		if attempt >= g.maxRetries {
			g.log.Warn("rate limit retries exhausted",
				zap.String("provider", name),
				zap.Int("attempts", attempt+1),
			)
			return err
		}
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		g.Pause(name, retryAfter)
	}
}
