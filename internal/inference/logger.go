// Package inference records every call a config deriver makes to a language
// model, for cost and failure review.
package inference

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// Sink persists inference log entries.
type Sink interface {
	Create(ctx context.Context, entry models.InferenceLog) error
}

// Logger records model calls. Entries are written asynchronously so the
// calling request is never slowed down by the log store.
type Logger struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewLogger creates a new inference logger. A nil sink only emits log lines.
func NewLogger(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Usage carries the token counts reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Call describes one attempt against a model provider.
type Call struct {
	Provider    string
	Model       string
	Operation   string
	Attempt     int
	Usage       Usage
	Latency     time.Duration
	Err         error
	RateLimited bool
	Metadata    map[string]any
}

// Entry converts the call into its stored form.
func (c Call) Entry(now time.Time) models.InferenceLog {
	entry := models.InferenceLog{
		Provider:         c.Provider,
		Model:            c.Model,
		Operation:        c.Operation,
		Attempt:          c.Attempt,
		PromptTokens:     c.Usage.PromptTokens,
		CompletionTokens: c.Usage.CompletionTokens,
		TotalTokens:      c.Usage.TotalTokens,
		LatencyMs:        int(c.Latency.Milliseconds()),
		Status:           models.InferenceSucceeded,
		Metadata:         c.Metadata,
		CreatedAt:        now.UTC(),
	}
	if entry.Attempt == 0 {
		entry.Attempt = 1
	}
	if c.Err != nil {
		entry.Error = c.Err.Error()
		entry.Status = models.InferenceFailed
		if c.RateLimited {
			entry.Status = models.InferenceRateLimited
		}
	}
	return entry
}

// Record logs a model call and hands it to the sink in the background.
func (l *Logger) Record(ctx context.Context, call Call) {
	if l == nil {
		return
	}

	entry := call.Entry(time.Now())
	l.logger.Debug("inference call",
		"provider", entry.Provider,
		"model", entry.Model,
		"operation", entry.Operation,
		"attempt", entry.Attempt,
		"tokens", entry.TotalTokens,
		"status", entry.Status,
	)

	if l.sink == nil {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		if err := l.sink.Create(bgCtx, entry); err != nil {
			l.logger.Error("failed to log inference call", "operation", entry.Operation, "error", errs.Loggable(err))
		}
	}()
}

// Wait blocks until pending writes have finished.
func (l *Logger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
