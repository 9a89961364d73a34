package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citypulse/ingestgw/internal/models"
)

// IngestionRunRepository persists the outcome of every ingest request.
type IngestionRunRepository struct {
	db *sql.DB
}

func NewIngestionRunRepository(db *sql.DB) *IngestionRunRepository {
	return &IngestionRunRepository{db: db}
}

// Log appends run, filling in its ID and timestamp when unset.
func (r *IngestionRunRepository) Log(ctx context.Context, run models.IngestionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.IngestedAt.IsZero() {
		run.IngestedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, domain, endpoint_id, table_name, records, status,
			error_class, message, transform_skipped, duration_ms, ingested_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`,
		run.ID, run.Domain, run.EndpointID, run.TableName, run.Records, string(run.Status),
		run.ErrorClass, run.Message, run.TransformSkipped, run.DurationMs, run.IngestedAt)
	if err != nil {
		return fmt.Errorf("log ingestion run: %w", err)
	}
	return nil
}

const runColumns = `id, domain, endpoint_id, COALESCE(table_name, ''), records, status,
	COALESCE(error_class, ''), COALESCE(message, ''), transform_skipped, duration_ms, ingested_at`

// List returns runs newest first, filtered by any non-empty query field.
func (r *IngestionRunRepository) List(ctx context.Context, q models.IngestionRunQuery) ([]models.IngestionRun, error) {
	var (
		conds []string
		args  []any
	)
	filter := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	filter("domain", q.Domain)
	filter("endpoint_id", q.EndpointID)
	filter("status", string(q.Status))

	stmt := "SELECT " + runColumns + " FROM ingestion_runs"
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, clampLimit(q.Limit))
	stmt += fmt.Sprintf(" ORDER BY ingested_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query ingestion runs: %w", err)
	}
	defer rows.Close()

	runs := []models.IngestionRun{}
	for rows.Next() {
		var (
			run    models.IngestionRun
			status string
		)
		if err := rows.Scan(&run.ID, &run.Domain, &run.EndpointID, &run.TableName, &run.Records, &status,
			&run.ErrorClass, &run.Message, &run.TransformSkipped, &run.DurationMs, &run.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan ingestion run: %w", err)
		}
		run.Status = models.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteOlderThan removes runs recorded more than age ago and reports how many went.
func (r *IngestionRunRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ingestion_runs WHERE ingested_at < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("prune ingestion runs: %w", err)
	}
	return res.RowsAffected()
}
