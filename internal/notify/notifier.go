package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"market_ingest/internal/models"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	maxListedErrors = 10
	maxMessageLen   = 4000 // Telegram rejects texts above 4096
)

// Notifier reports a finished run to whoever schedules the pipeline. Delivery
// problems are logged and never change the run result.
type Notifier interface {
	Notify(ctx context.Context, run *models.IngestionRun)
}

// ShouldNotify is true for every run that did not complete cleanly, and for
// completed runs when onSuccess is set.
func ShouldNotify(run *models.IngestionRun, onSuccess bool) bool {
	return run.State != models.StateCompleted || onSuccess
}

// Telegram sends run summaries to a single chat.
type Telegram struct {
	bot       *tgbot.BotAPI
	chatID    int64
	onSuccess bool
	log       *zap.Logger
}

func NewTelegram(bot *tgbot.BotAPI, chatID int64, onSuccess bool, log *zap.Logger) *Telegram {
	return &Telegram{
		bot:       bot,
		chatID:    chatID,
		onSuccess: onSuccess,
		log:       log.Named("notify"),
	}
}

func (t *Telegram) Notify(_ context.Context, run *models.IngestionRun) {
	if !ShouldNotify(run, t.onSuccess) {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, FormatRun(run))); err != nil {
		t.log.Warn("telegram send failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

// Log writes the summary as a log line. Used when no Telegram chat is configured.
type Log struct {
	onSuccess bool
	log       *zap.Logger
}

func NewLog(onSuccess bool, log *zap.Logger) *Log {
	return &Log{onSuccess: onSuccess, log: log.Named("notify")}
}

func (l *Log) Notify(_ context.Context, run *models.IngestionRun) {
	if !ShouldNotify(run, l.onSuccess) {
		return
	}
	if run.State == models.StateCompleted {
		l.log.Info(FormatRun(run))
		return
	}
	l.log.Warn(FormatRun(run))
}

func stateIcon(s models.RunState) string {
	switch s {
	case models.StateCompleted:
		return "✅"
	case models.StatePartiallyFailed:
		return "⚠️"
	}
	return "❌"
}

// FormatRun renders the run summary with one row per ticker.
func FormatRun(run *models.IngestionRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s in %s\n", stateIcon(run.State), run.Pipeline, run.State, run.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "run %s\n", run.ID)
	if run.AbortReason != "" {
		fmt.Fprintf(&b, "reason: %s\n", run.AbortReason)
	}
	if run.Cancelled {
		b.WriteString("cancelled before all work was done\n")
	}

	c := run.Counters
	fmt.Fprintf(&b, "fetched %d, inserted %d, updated %d, duplicates %d\n",
		c.Fetched, c.Inserted, c.Updated, c.Duplicates)
	if c.HasFailures() {
		fmt.Fprintf(&b, "invalid %d, failed %d, enrichment failed %d, fetch failed %d, unprocessed %d\n",
			c.Invalid, c.Failed, c.EnrichmentFailed, c.FetchFailed, c.Unprocessed)
	}

	if len(run.Tickers) > 0 {
		b.WriteString("\nticker  inserted  skipped  errors\n")
		for _, t := range run.Tickers {
			name := t.Ticker
			if t.Timeframe != "" {
				name += "/" + t.Timeframe
			}
			skipped := t.Duplicates + t.Invalid + t.Unprocessed
			fmt.Fprintf(&b, "%s  %d  %d  %d\n", name, t.Inserted+t.Updated, skipped, len(t.Errors))
		}
	}

	if n := len(run.Errors); n > 0 {
		shown := min(n, maxListedErrors)
		fmt.Fprintf(&b, "\nerrors (%d of %d):\n", shown, n)
		for _, e := range run.Errors[:shown] {
			fmt.Fprintf(&b, "- %s [%s/%s] %s\n", e.Ticker, e.Phase, e.Kind, e.Message)
		}
	}

	out := b.String()
	if len(out) > maxMessageLen {
		out = strings.ToValidUTF8(out[:maxMessageLen], "") + "…"
	}
	return out
}
