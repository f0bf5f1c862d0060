package service

import (
	"context"
	"sync"
	"time"

	"market_ingest/internal/models"
)

// Store keeps the per (pipeline, ticker) high-water mark between runs.
// Save never moves a mark backwards.
type Store interface {
	Load(ctx context.Context, pipelines ...string) (map[models.WatermarkKey]time.Time, error)
	Save(ctx context.Context, marks map[models.WatermarkKey]time.Time) error
}

// Memory keeps marks for the life of the process. Backend "none" uses it, so
// every invocation starts from the configured lookback.
type Memory struct {
	mu    sync.Mutex
	marks map[models.WatermarkKey]time.Time
}

func NewMemory() *Memory {
	return &Memory{marks: make(map[models.WatermarkKey]time.Time)}
}

func (m *Memory) Load(_ context.Context, pipelines ...string) (map[models.WatermarkKey]time.Time, error) {
	want := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		want[p] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.WatermarkKey]time.Time)
	for k, v := range m.marks {
		if want[k.Pipeline] {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) Save(_ context.Context, marks map[models.WatermarkKey]time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range marks {
		if v.After(m.marks[k]) {
			m.marks[k] = v.UTC()
		}
	}
	return nil
}
