package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// DefaultCallTimeout bounds every backend call made by the stores.
const DefaultCallTimeout = 10 * time.Second

// StoreOptions configures ConfigStore and RecordStore.
type StoreOptions struct {
	// Timeout bounds each backend call. Zero means DefaultCallTimeout.
	Timeout time.Duration

	// Now supplies creation and insertion timestamps. Defaults to time.Now.
	Now func() time.Time

	// NewID supplies record identifiers. Defaults to random UUIDv4 strings.
	NewID func() string
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultCallTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// callContext derives the bounded context for one backend call.
func (o StoreOptions) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.Timeout)
}

// storeFailure classifies a backend error. Drivers do not always wrap the
// context error when a statement is cancelled, so the call context decides
// whether the failure counts as a timeout.
func storeFailure(callCtx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return errs.Store(op, err)
}

// ConfigStore persists endpoint configurations keyed by "{domain}:{endpointId}".
type ConfigStore struct {
	backend ConfigBackend
	opts    StoreOptions
}

// NewConfigStore creates a config store over backend.
func NewConfigStore(backend ConfigBackend, opts StoreOptions) *ConfigStore {
	return &ConfigStore{backend: backend, opts: opts.withDefaults()}
}

// Put stores cfg, replacing any previous config under the same key. The
// creation timestamp is always assigned here; a client supplied one is discarded.
func (s *ConfigStore) Put(ctx context.Context, cfg models.EndpointConfig) (models.EndpointConfig, error) {
	if err := models.ValidateKey(cfg.Domain, cfg.EndpointID); err != nil {
		return models.EndpointConfig{}, err
	}

	cfg.CreatedAt = s.opts.Now().UTC()
	if len(cfg.Extra) > 0 {
		extra := make(map[string]json.RawMessage, len(cfg.Extra))
		for k, v := range cfg.Extra {
			if k == "created_at" {
				continue
			}
			extra[k] = v
		}
		cfg.Extra = extra
	}

	callCtx, cancel := s.opts.callContext(ctx)
	defer cancel()

	if err := s.backend.Put(callCtx, cfg); err != nil {
		return models.EndpointConfig{}, storeFailure(callCtx, "put endpoint config", err)
	}
	return cfg, nil
}

// Get returns the config stored for (domain, endpointID). A missing config is
// reported as *errs.NotFoundError.
func (s *ConfigStore) Get(ctx context.Context, domain, endpointID string) (models.EndpointConfig, error) {
	if err := models.ValidateKey(domain, endpointID); err != nil {
		return models.EndpointConfig{}, err
	}

	callCtx, cancel := s.opts.callContext(ctx)
	defer cancel()

	cfg, err := s.backend.Get(callCtx, domain, endpointID)
	if err != nil {
		return models.EndpointConfig{}, storeFailure(callCtx, "get endpoint config", err)
	}
	return cfg, nil
}

// List returns stored configs, optionally limited to one domain.
func (s *ConfigStore) List(ctx context.Context, domain string) ([]models.EndpointConfig, error) {
	callCtx, cancel := s.opts.callContext(ctx)
	defer cancel()

	configs, err := s.backend.List(callCtx, domain)
	if err != nil {
		return nil, storeFailure(callCtx, "list endpoint configs", err)
	}
	return configs, nil
}

// RecordStore writes batches of records into named tables.
type RecordStore struct {
	backend RecordBackend
	opts    StoreOptions
}

// NewRecordStore creates a record store over backend.
func NewRecordStore(backend RecordBackend, opts StoreOptions) *RecordStore {
	return &RecordStore{backend: backend, opts: opts.withDefaults()}
}

// InsertBatch stamps every record with a fresh uuid and insertion timestamp
// and writes the batch atomically. Document IDs are returned in input order.
// An empty batch succeeds without contacting the backend.
func (s *RecordStore) InsertBatch(ctx context.Context, table string, records []models.Record) (models.InsertionSummary, error) {
	if table == "" {
		return models.InsertionSummary{}, errs.Validation("tableName", "is required")
	}
	if len(records) == 0 {
		return models.InsertionSummary{RowsAdded: 0, DocumentIDs: []string{}, Success: true}, nil
	}
	if err := models.ValidateTableName(table); err != nil {
		return models.InsertionSummary{}, err
	}

	now := s.opts.Now().UTC()
	staged := make([]models.Record, len(records))
	ids := make([]string, len(records))
	for i, rec := range records {
		doc := rec.Clone()
		ids[i] = s.opts.NewID()
		doc.Stamp(ids[i], now)
		staged[i] = doc
	}

	callCtx, cancel := s.opts.callContext(ctx)
	defer cancel()

	if err := s.backend.InsertBatch(callCtx, table, staged); err != nil {
		return models.InsertionSummary{}, storeFailure(callCtx, "insert records", err)
	}

	return models.InsertionSummary{
		RowsAdded:   len(staged),
		DocumentIDs: ids,
		Success:     true,
	}, nil
}
