package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// ConfigBackend persists endpoint configurations.
type ConfigBackend interface {
	// Put replaces the configuration stored at cfg.Key().
	Put(ctx context.Context, cfg models.EndpointConfig) error

	// Get returns the stored configuration or an *errs.NotFoundError.
	Get(ctx context.Context, domain, endpointID string) (models.EndpointConfig, error)

	// List returns stored configurations, optionally limited to one domain.
	List(ctx context.Context, domain string) ([]models.EndpointConfig, error)
}

// RecordBackend persists stamped records. One call is one atomic batch.
type RecordBackend interface {
	InsertBatch(ctx context.Context, table string, records []models.Record) error
}

// RunLog stores the ingestion history.
type RunLog interface {
	Log(ctx context.Context, run models.IngestionRun) error
	List(ctx context.Context, q models.IngestionRunQuery) ([]models.IngestionRun, error)
}

// MemoryConfigBackend implements an in-memory config backend for testing/development.
// Documents are stored serialized so callers never share maps with the store.
type MemoryConfigBackend struct {
	mu      sync.RWMutex
	configs map[string][]byte
}

// NewMemoryConfigBackend creates a new in-memory config backend.
func NewMemoryConfigBackend() *MemoryConfigBackend {
	return &MemoryConfigBackend{configs: make(map[string][]byte)}
}

// Put stores a copy of cfg.
func (b *MemoryConfigBackend) Put(ctx context.Context, cfg models.EndpointConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint config: %w", err)
	}

	b.mu.Lock()
	b.configs[cfg.Key()] = doc
	b.mu.Unlock()
	return nil
}

// Get retrieves a copy of the stored config.
func (b *MemoryConfigBackend) Get(ctx context.Context, domain, endpointID string) (models.EndpointConfig, error) {
	if err := ctx.Err(); err != nil {
		return models.EndpointConfig{}, err
	}

	key := models.ConfigKey(domain, endpointID)

	b.mu.RLock()
	doc, ok := b.configs[key]
	b.mu.RUnlock()
	if !ok {
		return models.EndpointConfig{}, &errs.NotFoundError{Resource: "endpoint config", Key: key}
	}

	var cfg models.EndpointConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return models.EndpointConfig{}, fmt.Errorf("failed to parse endpoint config: %w", err)
	}
	return cfg, nil
}

// List returns stored configs ordered by key.
func (b *MemoryConfigBackend) List(ctx context.Context, domain string) ([]models.EndpointConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	keys := make([]string, 0, len(b.configs))
	for k := range b.configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	configs := []models.EndpointConfig{}
	for _, k := range keys {
		var cfg models.EndpointConfig
		if err := json.Unmarshal(b.configs[k], &cfg); err != nil {
			b.mu.RUnlock()
			return nil, fmt.Errorf("failed to parse endpoint config: %w", err)
		}
		if domain == "" || cfg.Domain == domain {
			configs = append(configs, cfg)
		}
	}
	b.mu.RUnlock()

	return configs, nil
}

// MemoryRecordBackend implements an in-memory record backend for testing/development.
type MemoryRecordBackend struct {
	mu     sync.RWMutex
	tables map[string][]models.Record
	calls  int
}

// NewMemoryRecordBackend creates a new in-memory record backend.
func NewMemoryRecordBackend() *MemoryRecordBackend {
	return &MemoryRecordBackend{tables: make(map[string][]models.Record)}
}

// InsertBatch appends copies of records to table, creating it on first use.
func (b *MemoryRecordBackend) InsertBatch(ctx context.Context, table string, records []models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	staged := make([]models.Record, len(records))
	for i, rec := range records {
		staged[i] = rec.Clone()
	}

	b.mu.Lock()
	b.calls++
	b.tables[table] = append(b.tables[table], staged...)
	b.mu.Unlock()
	return nil
}

// Records returns copies of everything stored in table.
func (b *MemoryRecordBackend) Records(table string) []models.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Record, len(b.tables[table]))
	for i, rec := range b.tables[table] {
		out[i] = rec.Clone()
	}
	return out
}

// Calls returns how many batches reached the backend.
func (b *MemoryRecordBackend) Calls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.calls
}

const maxMemoryRuns = 1000

// MemoryRunLog keeps the most recent ingestion runs in memory.
type MemoryRunLog struct {
	mu   sync.RWMutex
	runs []models.IngestionRun
}

// NewMemoryRunLog creates an empty in-memory run log.
func NewMemoryRunLog() *MemoryRunLog {
	return &MemoryRunLog{}
}

// Log appends a run, dropping the oldest beyond the retention limit.
func (l *MemoryRunLog) Log(ctx context.Context, run models.IngestionRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.runs = append(l.runs, run)
	if len(l.runs) > maxMemoryRuns {
		l.runs = l.runs[len(l.runs)-maxMemoryRuns:]
	}
	return nil
}

// DeleteOlderThan drops runs ingested more than age ago.
func (l *MemoryRunLog) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.runs[:0]
	for _, run := range l.runs {
		if run.IngestedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, run)
	}
	removed := int64(len(l.runs) - len(kept))
	l.runs = kept
	return removed, nil
}

// List returns matching runs, newest first.
func (l *MemoryRunLog) List(ctx context.Context, q models.IngestionRunQuery) ([]models.IngestionRun, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []models.IngestionRun{}
	for i := len(l.runs) - 1; i >= 0 && len(out) < limit; i-- {
		run := l.runs[i]
		if q.Domain != "" && run.Domain != q.Domain {
			continue
		}
		if q.EndpointID != "" && run.EndpointID != q.EndpointID {
			continue
		}
		if q.Status != "" && run.Status != q.Status {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

// FailedBackend stands in for a store that could not be initialized. Every
// call fails with the initialization error.
type FailedBackend struct {
	cause error
}

// NewFailedBackend returns a backend whose every call reports cause.
func NewFailedBackend(cause error) *FailedBackend {
	return &FailedBackend{cause: cause}
}

func (b *FailedBackend) err() error {
	return fmt.Errorf("store unavailable: %w", b.cause)
}

// Put always fails.
func (b *FailedBackend) Put(ctx context.Context, cfg models.EndpointConfig) error {
	return b.err()
}

// Get always fails.
func (b *FailedBackend) Get(ctx context.Context, domain, endpointID string) (models.EndpointConfig, error) {
	return models.EndpointConfig{}, b.err()
}

// List always fails.
func (b *FailedBackend) List(ctx context.Context, domain string) ([]models.EndpointConfig, error) {
	return nil, b.err()
}

// InsertBatch always fails.
func (b *FailedBackend) InsertBatch(ctx context.Context, table string, records []models.Record) error {
	return b.err()
}

// Log always fails.
func (b *FailedBackend) Log(ctx context.Context, run models.IngestionRun) error {
	return b.err()
}

// FailedRunLog is the RunLog counterpart of FailedBackend.
type FailedRunLog struct {
	*FailedBackend
}

// List always fails.
func (l FailedRunLog) List(ctx context.Context, q models.IngestionRunQuery) ([]models.IngestionRun, error) {
	return nil, l.err()
}
