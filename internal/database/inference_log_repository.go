package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citypulse/ingestgw/internal/models"
)

// InferenceLogRepository stores the history of config deriver calls.
type InferenceLogRepository struct {
	db *sql.DB
}

// NewInferenceLogRepository creates a new inference log repository.
func NewInferenceLogRepository(db *sql.DB) *InferenceLogRepository {
	return &InferenceLogRepository{db: db}
}

// Create stores one call. Missing ids and timestamps are filled in.
func (r *InferenceLogRepository) Create(ctx context.Context, entry models.InferenceLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal inference metadata: %w", err)
		}
		metadata = b
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inference_logs (
			id, provider, model, operation, attempt, prompt_tokens, completion_tokens,
			total_tokens, latency_ms, status, error, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
	`,
		entry.ID,
		entry.Provider,
		entry.Model,
		entry.Operation,
		entry.Attempt,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.TotalTokens,
		entry.LatencyMs,
		string(entry.Status),
		entry.Error,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert inference log: %w", err)
	}
	return nil
}

// List returns calls newest first. The limit defaults to 100 and is capped at 1000.
func (r *InferenceLogRepository) List(ctx context.Context, q models.InferenceLogQuery) ([]models.InferenceLog, error) {
	var (
		where []string
		args  []any
	)
	if q.Operation != "" {
		args = append(args, q.Operation)
		where = append(where, fmt.Sprintf("operation = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `
		SELECT id, provider, model, operation, attempt, prompt_tokens, completion_tokens,
		       total_tokens, latency_ms, status, COALESCE(error, ''), metadata, created_at
		FROM inference_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(q.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inference logs: %w", err)
	}
	defer rows.Close()

	logs := []models.InferenceLog{}
	for rows.Next() {
		var (
			entry    models.InferenceLog
			status   string
			metadata []byte
		)
		err := rows.Scan(
			&entry.ID,
			&entry.Provider,
			&entry.Model,
			&entry.Operation,
			&entry.Attempt,
			&entry.PromptTokens,
			&entry.CompletionTokens,
			&entry.TotalTokens,
			&entry.LatencyMs,
			&status,
			&entry.Error,
			&metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inference log: %w", err)
		}
		entry.Status = models.InferenceStatus(status)

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse inference metadata: %w", err)
			}
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// DeleteOlderThan removes calls recorded more than age ago.
func (r *InferenceLogRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM inference_logs WHERE created_at < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to prune inference logs: %w", err)
	}
	return result.RowsAffected()
}
