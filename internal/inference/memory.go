package inference

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/citypulse/ingestgw/internal/models"
)

const maxMemoryEntries = 1000

// MemorySink keeps the most recent calls in memory. It backs the inference
// history when no database is configured.
type MemorySink struct {
	mu      sync.RWMutex
	entries []models.InferenceLog
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Create appends an entry, dropping the oldest beyond the retention limit.
func (s *MemorySink) Create(ctx context.Context, entry models.InferenceLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if len(s.entries) > maxMemoryEntries {
		s.entries = s.entries[len(s.entries)-maxMemoryEntries:]
	}
	return nil
}

// List returns matching entries, newest first.
func (s *MemorySink) List(ctx context.Context, q models.InferenceLogQuery) ([]models.InferenceLog, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.InferenceLog{}
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.entries[i]
		if q.Operation != "" && entry.Operation != q.Operation {
			continue
		}
		if q.Status != "" && entry.Status != q.Status {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
