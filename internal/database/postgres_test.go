package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/citypulse/ingestgw/internal/config"
	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// openTestDB connects to TEST_DATABASE_URL and applies migrations. Tests are
// skipped when it is not set.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set - skipping Postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, PoolOptionsFromStore(config.StoreConfig{
		DatabaseURL:    dbURL,
		MaxConnections: 5,
		CallTimeout:    10 * time.Second,
	}))
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := RunMigrations(ctx, db, logger); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	// Second run must be a no-op.
	if err := RunMigrations(ctx, db, logger); err != nil {
		t.Fatalf("failed to re-run migrations: %v", err)
	}

	if err := Ping(ctx, db, time.Second); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	return db
}

func TestOpen_RequiresURL(t *testing.T) {
	if _, err := Open(context.Background(), PoolOptions{}); err == nil {
		t.Fatal("expected an error without a database URL")
	}
}

func TestPoolOptionsFromStore(t *testing.T) {
	opts := PoolOptionsFromStore(config.StoreConfig{DatabaseURL: "postgres://x", MaxConnections: 25, CallTimeout: 3 * time.Second})
	if opts.MaxOpenConns != 25 || opts.MaxIdleConns != 8 || opts.ConnectTimeout != 3*time.Second {
		t.Errorf("unexpected pool options %+v", opts)
	}
	if small := PoolOptionsFromStore(config.StoreConfig{MaxConnections: 1}); small.MaxIdleConns != 2 {
		t.Errorf("expected idle floor of 2, got %d", small.MaxIdleConns)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 100},
		{-5, 100},
		{20, 20},
		{1000, 1000},
		{5000, 1000},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEndpointConfigRepository_PutGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewEndpointConfigRepository(db)

	endpointID := "bus_gps_" + uuid.NewString()[:8]
	cfg := models.EndpointConfig{
		Domain:           "Transport",
		EndpointID:       endpointID,
		TableName:        "bus_positions",
		SchemaDefinition: models.Schema{"lat": models.FieldTypeFloat, "lon": models.FieldTypeFloat},
		CriticalityLevel: 3,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := repo.Put(ctx, cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repo.Get(ctx, "Transport", endpointID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TableName != "bus_positions" || got.SchemaDefinition["lat"] != models.FieldTypeFloat {
		t.Fatalf("unexpected config %+v", got)
	}
	if !got.CreatedAt.Equal(cfg.CreatedAt) {
		t.Errorf("createdAt = %v, want %v", got.CreatedAt, cfg.CreatedAt)
	}

	cfg.TableName = "bus_positions_v2"
	if err := repo.Put(ctx, cfg); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err = repo.Get(ctx, "Transport", endpointID)
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if got.TableName != "bus_positions_v2" {
		t.Errorf("expected overwrite, got %q", got.TableName)
	}

	configs, err := repo.List(ctx, "Transport")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(configs) == 0 {
		t.Fatal("expected at least one config for Transport")
	}

	_, err = repo.Get(ctx, "Unknown", "xyz-"+uuid.NewString())
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRecordRepository_InsertBatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	schema := "ingest_test"
	repo := NewRecordRepository(db, schema)

	table := fmt.Sprintf("bus_positions_%d", time.Now().UnixNano()%1_000_000)
	t.Cleanup(func() {
		db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s.%s`, schema, table))
	})

	now := time.Now().UTC()
	records := []models.Record{
		{"lat": 1.0, "lon": 2.0},
		{"lat": 3.0, "lon": 4.0},
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = uuid.NewString()
		rec.Stamp(ids[i], now)
	}

	if err := repo.InsertBatch(ctx, table, records); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s.%s`, schema, table)).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}

	rec, err := repo.Get(ctx, table, ids[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec["lat"] != 1.0 || rec[models.RecordIDField] != ids[0] {
		t.Fatalf("unexpected stored record %v", rec)
	}

	// A duplicate id makes the whole batch fail and nothing is committed.
	dup := []models.Record{{"lat": 5.0}, {"lat": 6.0}}
	dup[0].Stamp(uuid.NewString(), now)
	dup[1].Stamp(ids[1], now)
	if err := repo.InsertBatch(ctx, table, dup); err == nil {
		t.Fatal("expected duplicate id to fail the batch")
	}
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s.%s`, schema, table)).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected failed batch to leave 2 rows, got %d", count)
	}
}

func TestRecordRepository_RejectsUnsafeTableName(t *testing.T) {
	repo := NewRecordRepository(nil, "ingest")
	err := repo.InsertBatch(context.Background(), `x"; DROP TABLE endpoint_configs; --`, []models.Record{{"a": 1}})
	if errs.ClassOf(err) != errs.ClassValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestionRunRepository_LogList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewIngestionRunRepository(db)

	endpointID := "runs_" + uuid.NewString()[:8]
	runs := []models.IngestionRun{
		{Domain: "Transport", EndpointID: endpointID, TableName: "bus_positions", Records: 3, Status: models.RunStatusSucceeded},
		{Domain: "Transport", EndpointID: endpointID, Status: models.RunStatusFailed, ErrorClass: "not_found", Message: "missing"},
	}
	for _, run := range runs {
		if err := repo.Log(ctx, run); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := repo.List(ctx, models.IngestionRunQuery{EndpointID: endpointID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}

	failed, err := repo.List(ctx, models.IngestionRunQuery{EndpointID: endpointID, Status: models.RunStatusFailed})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorClass != "not_found" {
		t.Fatalf("unexpected failed runs %+v", failed)
	}
}

func TestInferenceLogRepository_CreateList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewInferenceLogRepository(db)

	err := repo.Create(ctx, models.InferenceLog{
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		Operation:    "define_data_domain",
		Attempt:      1,
		PromptTokens: 30,
		TotalTokens:  42,
		LatencyMs:    120,
		Status:       models.InferenceSucceeded,
		Metadata:     map[string]any{"prompt_chars": 64},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	logs, err := repo.List(ctx, models.InferenceLogQuery{Operation: "define_data_domain", Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(logs) != 1 || logs[0].TotalTokens != 42 || logs[0].ID == "" {
		t.Fatalf("unexpected logs %+v", logs)
	}

	if _, err := repo.DeleteOlderThan(ctx, time.Hour); err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
}
