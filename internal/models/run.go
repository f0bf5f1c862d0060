package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type RunState string

const (
	StateIdle            RunState = "idle"
	StateFetching        RunState = "fetching"
	StateEnriching       RunState = "enriching"
	StatePersisting      RunState = "persisting"
	StateCompleted       RunState = "completed"
	StatePartiallyFailed RunState = "partially_failed"
	StateAborted         RunState = "aborted"
)

var runTransitions = map[RunState][]RunState{
	StateIdle:       {StateFetching, StateAborted},
	StateFetching:   {StateEnriching, StatePersisting, StatePartiallyFailed, StateAborted},
	StateEnriching:  {StatePersisting, StatePartiallyFailed, StateAborted},
	StatePersisting: {StateCompleted, StatePartiallyFailed, StateAborted},
}

func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StatePartiallyFailed || s == StateAborted
}

func (s RunState) CanTransition(to RunState) bool {
	for _, next := range runTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Counters are per-run and per-ticker tallies. Every reject lands in exactly one.
type Counters struct {
	Fetched          int `json:"fetched"`
	Inserted         int `json:"inserted"`
	Updated          int `json:"updated"`
	Duplicates       int `json:"duplicates"`
	Invalid          int `json:"invalid"`
	Failed           int `json:"failed"`
	EnrichmentFailed int `json:"enrichment_failed"`
	FetchFailed      int `json:"fetch_failed"`
	Unprocessed      int `json:"unprocessed"`
}

func (c *Counters) Add(o Counters) {
	c.Fetched += o.Fetched
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Duplicates += o.Duplicates
	c.Invalid += o.Invalid
	c.Failed += o.Failed
	c.EnrichmentFailed += o.EnrichmentFailed
	c.FetchFailed += o.FetchFailed
	c.Unprocessed += o.Unprocessed
}

// Count tallies a persistence outcome.
func (c *Counters) Count(o Outcome) {
	switch o {
	case OutcomeInserted:
		c.Inserted++
	case OutcomeUpdated, OutcomeEnriched:
		c.Updated++
	case OutcomeDuplicate:
		c.Duplicates++
	case OutcomeInvalid:
		c.Invalid++
	}
}

// HasFailures is true when anything was rejected, failed or left unprocessed.
// Duplicates are expected and do not count.
func (c Counters) HasFailures() bool {
	return c.Invalid+c.Failed+c.EnrichmentFailed+c.FetchFailed+c.Unprocessed > 0
}

type ItemError struct {
	Ticker    string    `json:"ticker"`
	Timeframe string    `json:"timeframe,omitempty"`
	Key       string    `json:"key,omitempty"`
	Phase     RunState  `json:"phase"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

// TickerSummary is owned by exactly one goroutine while the run is in progress.
type TickerSummary struct {
	Ticker     string `json:"ticker"`
	Timeframe  string `json:"timeframe,omitempty"`
	Counters   `json:"counters"`
	FetchKind  ErrorKind   `json:"fetch_kind,omitempty"`
	FetchError string      `json:"fetch_error,omitempty"`
	Errors     []ItemError `json:"errors,omitempty"`
}

func (t *TickerSummary) Record(phase RunState, key string, err error) {
	t.Errors = append(t.Errors, ItemError{
		Ticker:    t.Ticker,
		Timeframe: t.Timeframe,
		Key:       key,
		Phase:     phase,
		Kind:      KindOf(err),
		Message:   err.Error(),
	})
}

// FailFetch marks the ticker sub-run as aborted at fetch level.
func (t *TickerSummary) FailFetch(err error) {
	t.FetchFailed++
	t.FetchKind = KindOf(err)
	t.FetchError = err.Error()
	t.Record(StateFetching, "", err)
}

func (t *TickerSummary) FetchOK() bool { return t.FetchError == "" }

type WatermarkKey struct {
	Pipeline string
	Ticker   string
}

type StateChange struct {
	From RunState
	To   RunState
	At   time.Time
}

// IngestionRun is the result contract of one orchestrator invocation.
type IngestionRun struct {
	ID          uuid.UUID
	Pipeline    string
	State       RunState
	StartedAt   time.Time
	FinishedAt  time.Time
	Counters    Counters
	Tickers     []*TickerSummary
	Errors      []ItemError
	Watermarks  map[WatermarkKey]time.Time
	AbortReason string
	Cancelled   bool
	History     []StateChange
}

func NewIngestionRun(pipeline string, now time.Time) *IngestionRun {
	return &IngestionRun{
		ID:         uuid.New(),
		Pipeline:   pipeline,
		State:      StateIdle,
		StartedAt:  now,
		Watermarks: make(map[WatermarkKey]time.Time),
	}
}

func (r *IngestionRun) Transition(to RunState, at time.Time) error {
	if !r.State.CanTransition(to) {
		return errors.Errorf("illegal run transition %s -> %s", r.State, to)
	}
	r.History = append(r.History, StateChange{From: r.State, To: to, At: at})
	r.State = to
	return nil
}

// Abort ends the run on a fatal precondition.
func (r *IngestionRun) Abort(reason error, at time.Time) {
	r.AbortReason = reason.Error()
	if !r.State.Terminal() {
		r.History = append(r.History, StateChange{From: r.State, To: StateAborted, At: at})
		r.State = StateAborted
	}
	r.FinishedAt = at
}

// Finish aggregates ticker summaries and moves to Completed or PartiallyFailed.
func (r *IngestionRun) Finish(at time.Time) error {
	var total Counters
	var errs []ItemError
	for _, t := range r.Tickers {
		total.Add(t.Counters)
		errs = append(errs, t.Errors...)
	}
	r.Counters = total
	r.Errors = errs
	r.FinishedAt = at

	to := StateCompleted
	if total.HasFailures() || r.Cancelled {
		to = StatePartiallyFailed
	}
	return r.Transition(to, at)
}

// ExitCode distinguishes "nothing ran" (1) from "some items were skipped" (2).
func (r *IngestionRun) ExitCode() int {
	switch r.State {
	case StateCompleted:
		return 0
	case StatePartiallyFailed:
		return 2
	}
	return 1
}

func (r *IngestionRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *IngestionRun) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", r.ID.String()),
		zap.String("pipeline", r.Pipeline),
		zap.String("state", string(r.State)),
		zap.Duration("duration", r.Duration()),
		zap.Int("tickers", len(r.Tickers)),
		zap.Int("fetched", r.Counters.Fetched),
		zap.Int("inserted", r.Counters.Inserted),
		zap.Int("updated", r.Counters.Updated),
		zap.Int("duplicates", r.Counters.Duplicates),
		zap.Int("invalid", r.Counters.Invalid),
		zap.Int("failed", r.Counters.Failed),
		zap.Int("enrichment_failed", r.Counters.EnrichmentFailed),
		zap.Int("fetch_failed", r.Counters.FetchFailed),
		zap.Int("unprocessed", r.Counters.Unprocessed),
	}
	if r.Cancelled {
		fields = append(fields, zap.Bool("cancelled", true))
	}
	if r.AbortReason != "" {
		fields = append(fields, zap.String("abort_reason", r.AbortReason))
	}
	return fields
}
