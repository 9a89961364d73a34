package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// EndpointConfigRepository persists endpoint configurations keyed by
// "{domain}:{endpointId}". The full config is kept as a JSONB document.
type EndpointConfigRepository struct {
	db *sql.DB
}

// NewEndpointConfigRepository creates a new repository for endpoint configurations.
func NewEndpointConfigRepository(db *sql.DB) *EndpointConfigRepository {
	return &EndpointConfigRepository{db: db}
}

// Put replaces the document stored at the config's key.
func (r *EndpointConfigRepository) Put(ctx context.Context, cfg models.EndpointConfig) error {
	document, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint config: %w", err)
	}

	query := `
		INSERT INTO endpoint_configs (config_key, domain, endpoint_id, table_name, document, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (config_key) DO UPDATE SET
			table_name = EXCLUDED.table_name,
			document   = EXCLUDED.document,
			created_at = EXCLUDED.created_at
	`

	_, err = r.db.ExecContext(ctx, query,
		cfg.Key(),
		cfg.Domain,
		cfg.EndpointID,
		cfg.TableName,
		document,
		cfg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert endpoint config %s: %w", cfg.Key(), err)
	}
	return nil
}

// Get retrieves the configuration stored for (domain, endpointID).
func (r *EndpointConfigRepository) Get(ctx context.Context, domain, endpointID string) (models.EndpointConfig, error) {
	key := models.ConfigKey(domain, endpointID)

	var document []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM endpoint_configs WHERE config_key = $1`, key,
	).Scan(&document)

	if errors.Is(err, sql.ErrNoRows) {
		return models.EndpointConfig{}, &errs.NotFoundError{Resource: "endpoint config", Key: key}
	}
	if err != nil {
		return models.EndpointConfig{}, fmt.Errorf("failed to get endpoint config %s: %w", key, err)
	}

	var cfg models.EndpointConfig
	if err := json.Unmarshal(document, &cfg); err != nil {
		return models.EndpointConfig{}, fmt.Errorf("failed to parse endpoint config %s: %w", key, err)
	}
	return cfg, nil
}

// List returns stored configurations ordered by key, optionally limited to one domain.
func (r *EndpointConfigRepository) List(ctx context.Context, domain string) ([]models.EndpointConfig, error) {
	query := `SELECT document FROM endpoint_configs`
	args := []any{}
	if domain != "" {
		query += ` WHERE domain = $1`
		args = append(args, domain)
	}
	query += ` ORDER BY config_key`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint configs: %w", err)
	}
	defer rows.Close()

	configs := []models.EndpointConfig{}
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint config: %w", err)
		}

		var cfg models.EndpointConfig
		if err := json.Unmarshal(document, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse endpoint config: %w", err)
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}
