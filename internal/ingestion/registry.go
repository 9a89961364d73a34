package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// Registry resolves and registers endpoint configurations.
type Registry struct {
	store  *ConfigStore
	logger *slog.Logger
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store *ConfigStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// Resolve returns the configuration for an ingestion target. Unknown targets
// yield *errs.EndpointNotConfiguredError.
func (r *Registry) Resolve(ctx context.Context, domain, endpointID string) (models.EndpointConfig, error) {
	cfg, err := r.store.Get(ctx, domain, endpointID)
	if errs.IsNotFound(err) {
		return models.EndpointConfig{}, &errs.EndpointNotConfiguredError{Domain: domain, EndpointID: endpointID}
	}
	if err != nil {
		return models.EndpointConfig{}, err
	}
	return cfg, nil
}

// Get returns a stored config; unknown keys yield *errs.NotFoundError.
func (r *Registry) Get(ctx context.Context, domain, endpointID string) (models.EndpointConfig, error) {
	return r.store.Get(ctx, domain, endpointID)
}

// List returns stored configs, optionally limited to one domain.
func (r *Registry) List(ctx context.Context, domain string) ([]models.EndpointConfig, error) {
	return r.store.List(ctx, domain)
}

// Register parses a raw config document and stores it.
func (r *Registry) Register(ctx context.Context, raw []byte) (models.EndpointConfig, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.EndpointConfig{}, errs.Validation("", "request body must be a JSON object")
	}

	var cfg models.EndpointConfig
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return models.EndpointConfig{}, errs.Validationf("", "invalid endpoint config: %v", err)
	}
	return r.RegisterConfig(ctx, cfg)
}

// RegisterConfig normalizes cfg and stores it, replacing any previous
// config under the same key.
func (r *Registry) RegisterConfig(ctx context.Context, cfg models.EndpointConfig) (models.EndpointConfig, error) {
	if err := normalizeConfig(&cfg); err != nil {
		return models.EndpointConfig{}, err
	}

	stored, err := r.store.Put(ctx, cfg)
	if err != nil {
		return models.EndpointConfig{}, err
	}

	r.logger.Info("endpoint config stored",
		"key", stored.Key(),
		"table", stored.TableName,
		"fields", len(stored.SchemaDefinition),
	)
	return stored, nil
}

func normalizeConfig(cfg *models.EndpointConfig) error {
	cfg.Domain = strings.TrimSpace(cfg.Domain)
	cfg.EndpointID = strings.TrimSpace(cfg.EndpointID)
	if err := models.ValidateKey(cfg.Domain, cfg.EndpointID); err != nil {
		return err
	}

	if cfg.TableName != "" {
		if err := models.ValidateTableName(cfg.TableName); err != nil {
			return err
		}
	}

	if len(cfg.SchemaDefinition) > 0 {
		schema := make(models.Schema, len(cfg.SchemaDefinition))
		for name, raw := range cfg.SchemaDefinition {
			if strings.TrimSpace(name) == "" {
				return errs.Validation("schemaDefinition", "field names must not be empty")
			}
			t, err := models.ParseFieldType(string(raw))
			if err != nil {
				return errs.Validation("schemaDefinition."+name, err.Error())
			}
			schema[name] = t
		}
		cfg.SchemaDefinition = schema
	}

	if cfg.IngestionType != "" {
		t, err := models.ParseIngestionType(string(cfg.IngestionType))
		if err != nil {
			return errs.Validation("ingestionType", err.Error())
		}
		cfg.IngestionType = t
	}

	if cfg.CriticalityLevel != 0 && (cfg.CriticalityLevel < 1 || cfg.CriticalityLevel > 5) {
		return errs.Validationf("criticalityLevel", "must be between 1 and 5, got %d", cfg.CriticalityLevel)
	}

	cfg.AuthorizedUsers = uniqueStrings(cfg.AuthorizedUsers)
	return nil
}

// uniqueStrings trims, drops blanks and de-duplicates, returning a sorted set.
func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
