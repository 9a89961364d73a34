package inference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/citypulse/ingestgw/internal/logging"
	"github.com/citypulse/ingestgw/internal/models"
)

type recordingSink struct {
	mu   sync.Mutex
	logs []models.InferenceLog
	err  error
}

func (s *recordingSink) Create(ctx context.Context, entry models.InferenceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return s.err
}

func TestCallEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		call       Call
		wantStatus models.InferenceStatus
		wantError  string
	}{
		{
			name:       "success",
			call:       Call{Usage: Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}},
			wantStatus: models.InferenceSucceeded,
		},
		{
			name:       "failure",
			call:       Call{Err: errors.New("model returned invalid JSON")},
			wantStatus: models.InferenceFailed,
			wantError:  "model returned invalid JSON",
		},
		{
			name:       "rate limited",
			call:       Call{Err: errors.New("429 Too Many Requests"), RateLimited: true},
			wantStatus: models.InferenceRateLimited,
			wantError:  "429 Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.call.Entry(now)
			if got.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, got.Status)
			}
			if got.Error != tt.wantError {
				t.Errorf("expected error %q, got %q", tt.wantError, got.Error)
			}
			if got.Attempt != 1 {
				t.Errorf("expected attempt to default to 1, got %d", got.Attempt)
			}
			if !got.CreatedAt.Equal(now) {
				t.Errorf("expected createdAt %v, got %v", now, got.CreatedAt)
			}
		})
	}
}

func TestRecord_WritesToSink(t *testing.T) {
	sink := &recordingSink{}
	logger := NewLogger(sink, logging.Discard())

	logger.Record(context.Background(), Call{
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Operation: "define_data_domain",
		Attempt:   2,
		Usage:     Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
		Latency:   250 * time.Millisecond,
	})
	logger.Wait()

	if len(sink.logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(sink.logs))
	}
	got := sink.logs[0]
	if got.Provider != "openai" || got.TotalTokens != 150 || got.Attempt != 2 {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.LatencyMs != 250 {
		t.Errorf("expected latency 250ms, got %d", got.LatencyMs)
	}
}

func TestRecord_SinkFailureIsNotFatal(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	logger := NewLogger(sink, logging.Discard())

	logger.Record(context.Background(), Call{Operation: "summarize_record", Err: errors.New("boom")})
	logger.Wait()

	if len(sink.logs) != 1 || sink.logs[0].Status != models.InferenceFailed {
		t.Errorf("expected one failed entry, got %+v", sink.logs)
	}
}

func TestLogger_NilSinkAndNilLogger(t *testing.T) {
	NewLogger(nil, logging.Discard()).Record(context.Background(), Call{Operation: "x"})

	var nilLogger *Logger
	nilLogger.Record(context.Background(), Call{Operation: "x"})
	nilLogger.Wait()
}

func TestMemorySink_ListFilters(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	entries := []models.InferenceLog{
		{Operation: "define_data_domain", Status: models.InferenceSucceeded},
		{Operation: "summarize_record", Status: models.InferenceRateLimited},
		{Operation: "define_data_domain", Status: models.InferenceFailed},
	}
	for _, e := range entries {
		if err := sink.Create(ctx, e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	all, _ := sink.List(ctx, models.InferenceLogQuery{})
	if len(all) != 3 || all[0].Status != models.InferenceFailed {
		t.Fatalf("expected 3 entries newest first, got %+v", all)
	}
	if all[0].ID == "" {
		t.Error("expected an id to be assigned")
	}

	domain, _ := sink.List(ctx, models.InferenceLogQuery{Operation: "define_data_domain"})
	if len(domain) != 2 {
		t.Errorf("expected 2 define_data_domain entries, got %d", len(domain))
	}

	limited, _ := sink.List(ctx, models.InferenceLogQuery{Status: models.InferenceRateLimited, Limit: 1})
	if len(limited) != 1 || limited[0].Operation != "summarize_record" {
		t.Errorf("unexpected filtered entries %+v", limited)
	}
}
