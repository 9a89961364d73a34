package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/citypulse/ingestgw/internal/models"
)

// RecordRepository writes ingested records into one table per tableName,
// created on first use inside a dedicated schema. Each row keeps the
// assigned identity in columns and the full record as JSONB.
type RecordRepository struct {
	db     *sql.DB
	schema string

	mu    sync.Mutex
	ready map[string]bool
}

// NewRecordRepository creates a repository writing into schema.
func NewRecordRepository(db *sql.DB, schema string) *RecordRepository {
	return &RecordRepository{
		db:     db,
		schema: schema,
		ready:  make(map[string]bool),
	}
}

// InsertBatch stores already stamped records in a single transaction using
// COPY. Either every row is committed or none is.
func (r *RecordRepository) InsertBatch(ctx context.Context, table string, records []models.Record) error {
	if err := models.ValidateTableName(table); err != nil {
		return err
	}

	if err := r.ensureTable(ctx, table); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch for %s: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(r.schema, table, "uuid", "insert_timestamp", "document"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy into %s: %w", table, err)
	}

	for i, rec := range records {
		id, _ := rec[models.RecordIDField].(string)
		ts, _ := rec[models.RecordTimestampField].(time.Time)

		document, err := json.Marshal(rec)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("failed to marshal record %d: %w", i, err)
		}

		// COPY encodes []byte as bytea, so JSONB must be passed as text.
		if _, err := stmt.ExecContext(ctx, id, ts, string(document)); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to stage record %d: %w", i, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy into %s: %w", table, err)
	}

	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy into %s: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch for %s: %w", table, err)
	}
	return nil
}

// Get reads one stored record back by its assigned identifier.
func (r *RecordRepository) Get(ctx context.Context, table, id string) (models.Record, error) {
	if err := models.ValidateTableName(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT document FROM %s.%s WHERE uuid = $1`,
		pq.QuoteIdentifier(r.schema), pq.QuoteIdentifier(table))

	var document []byte
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&document); err != nil {
		return nil, fmt.Errorf("failed to get record %s from %s: %w", id, table, err)
	}

	var rec models.Record
	if err := json.Unmarshal(document, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", id, err)
	}
	return rec, nil
}

// ensureTable creates the schema and table once per process. Creation runs in
// its own short transaction holding an advisory lock so concurrent first
// writers do not race on the catalog.
func (r *RecordRepository) ensureTable(ctx context.Context, table string) error {
	r.mu.Lock()
	ok := r.ready[table]
	r.mu.Unlock()
	if ok {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin table setup for %s: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "ingestgw:"+r.schema); err != nil {
		return fmt.Errorf("failed to lock table setup for %s: %w", table, err)
	}

	schema := pq.QuoteIdentifier(r.schema)
	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			uuid             UUID PRIMARY KEY,
			insert_timestamp TIMESTAMPTZ NOT NULL,
			document         JSONB NOT NULL
		)`, schema, pq.QuoteIdentifier(table)),
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit table setup for %s: %w", table, err)
	}

	r.mu.Lock()
	r.ready[table] = true
	r.mu.Unlock()
	return nil
}
