package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

func TestMemoryConfigBackend_RoundTrip(t *testing.T) {
	backend := NewMemoryConfigBackend()
	ctx := context.Background()

	cfg := models.EndpointConfig{
		Domain:     "Transport",
		EndpointID: "bus_gps_v1",
		TableName:  "bus_gps",
		Extra:      map[string]json.RawMessage{"owner": json.RawMessage(`"mobility-team"`)},
	}
	if err := backend.Put(ctx, cfg); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := backend.Get(ctx, "Transport", "bus_gps_v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TableName != "bus_gps" {
		t.Errorf("expected table bus_gps, got %q", got.TableName)
	}
	if string(got.Extra["owner"]) != `"mobility-team"` {
		t.Errorf("expected unknown field preserved, got %s", got.Extra["owner"])
	}

	// Mutating the returned copy must not leak into the store.
	got.Extra["owner"] = json.RawMessage(`"someone-else"`)
	again, _ := backend.Get(ctx, "Transport", "bus_gps_v1")
	if string(again.Extra["owner"]) != `"mobility-team"` {
		t.Error("stored config was mutated through a returned copy")
	}
}

func TestMemoryConfigBackend_GetMissing(t *testing.T) {
	backend := NewMemoryConfigBackend()

	_, err := backend.Get(context.Background(), "Unknown", "xyz")
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestMemoryConfigBackend_ListByDomain(t *testing.T) {
	backend := NewMemoryConfigBackend()
	ctx := context.Background()

	for _, cfg := range []models.EndpointConfig{
		{Domain: "Transport", EndpointID: "bus_gps_v1"},
		{Domain: "Transport", EndpointID: "tram_gps_v1"},
		{Domain: "Energy", EndpointID: "meter_v2"},
	} {
		if err := backend.Put(ctx, cfg); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	all, err := backend.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 configs, got %d", len(all))
	}

	transport, err := backend.List(ctx, "Transport")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(transport) != 2 {
		t.Fatalf("expected 2 Transport configs, got %d", len(transport))
	}
	if transport[0].EndpointID != "bus_gps_v1" || transport[1].EndpointID != "tram_gps_v1" {
		t.Errorf("expected configs ordered by key, got %s, %s", transport[0].EndpointID, transport[1].EndpointID)
	}
}

func TestMemoryRecordBackend_CopiesRecords(t *testing.T) {
	backend := NewMemoryRecordBackend()

	rec := models.Record{"busId": "B1"}
	if err := backend.InsertBatch(context.Background(), "bus_gps", []models.Record{rec}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	rec["busId"] = "changed"

	stored := backend.Records("bus_gps")
	if len(stored) != 1 || stored[0]["busId"] != "B1" {
		t.Errorf("expected stored copy to be unchanged, got %v", stored)
	}
	if backend.Calls() != 1 {
		t.Errorf("expected 1 call, got %d", backend.Calls())
	}
}

func TestMemoryRunLog_ListFilters(t *testing.T) {
	log := NewMemoryRunLog()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runs := []models.IngestionRun{
		{ID: "1", Domain: "Transport", EndpointID: "bus_gps_v1", Status: models.RunStatusSucceeded, IngestedAt: base},
		{ID: "2", Domain: "Transport", EndpointID: "bus_gps_v1", Status: models.RunStatusFailed, IngestedAt: base.Add(time.Minute)},
		{ID: "3", Domain: "Energy", EndpointID: "meter_v2", Status: models.RunStatusSucceeded, IngestedAt: base.Add(2 * time.Minute)},
	}
	for _, run := range runs {
		if err := log.Log(ctx, run); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		query models.IngestionRunQuery
		want  []string
	}{
		{"all newest first", models.IngestionRunQuery{}, []string{"3", "2", "1"}},
		{"by domain", models.IngestionRunQuery{Domain: "Transport"}, []string{"2", "1"}},
		{"by status", models.IngestionRunQuery{Status: models.RunStatusSucceeded}, []string{"3", "1"}},
		{"limit", models.IngestionRunQuery{Limit: 1}, []string{"3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := log.List(ctx, tt.query)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d runs, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: expected run %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestFailedBackend_ReportsCause(t *testing.T) {
	cause := errors.New("connection refused")
	backend := NewFailedBackend(cause)
	ctx := context.Background()

	if err := backend.Put(ctx, models.EndpointConfig{}); !errors.Is(err, cause) {
		t.Errorf("Put: expected cause in chain, got %v", err)
	}
	if _, err := backend.Get(ctx, "a", "b"); !errors.Is(err, cause) {
		t.Errorf("Get: expected cause in chain, got %v", err)
	}
	if err := backend.InsertBatch(ctx, "t", nil); !errors.Is(err, cause) {
		t.Errorf("InsertBatch: expected cause in chain, got %v", err)
	}
	if _, err := (FailedRunLog{backend}).List(ctx, models.IngestionRunQuery{}); !errors.Is(err, cause) {
		t.Errorf("List runs: expected cause in chain, got %v", err)
	}
}

func TestMemoryRunLog_DeleteOlderThan(t *testing.T) {
	log := NewMemoryRunLog()
	ctx := context.Background()
	now := time.Now().UTC()

	_ = log.Log(ctx, models.IngestionRun{ID: "old", IngestedAt: now.Add(-48 * time.Hour)})
	_ = log.Log(ctx, models.IngestionRun{ID: "new", IngestedAt: now.Add(-time.Minute)})

	removed, err := log.DeleteOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 run removed, got %d", removed)
	}

	got, _ := log.List(ctx, models.IngestionRunQuery{})
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("expected only the recent run to remain, got %+v", got)
	}
}
