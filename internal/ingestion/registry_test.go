package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/logging"
	"github.com/citypulse/ingestgw/internal/models"
)

func newTestRegistry() *Registry {
	store := NewConfigStore(NewMemoryConfigBackend(), testStoreOptions())
	return NewRegistry(store, logging.Discard())
}

func TestRegistry_RegisterNormalizes(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	raw := []byte(`{
		"domain": "Transport",
		"endpointId": "bus_gps_v1",
		"tableName": "bus_gps",
		"schemaDefinition": {"busId": "string", "lat": "Float", "seen": "TIMESTAMP"},
		"ingestionType": "restapi",
		"authorizedUsers": ["ops", "ops", " ", "analyst"],
		"criticalityLevel": 3,
		"retentionDays": 30
	}`)

	cfg, err := reg.Register(ctx, raw)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if cfg.SchemaDefinition["busId"] != models.FieldTypeString || cfg.SchemaDefinition["lat"] != models.FieldTypeFloat {
		t.Errorf("expected normalized field types, got %v", cfg.SchemaDefinition)
	}
	if cfg.IngestionType != models.IngestionTypeRestAPI {
		t.Errorf("expected RestAPI, got %q", cfg.IngestionType)
	}
	if len(cfg.AuthorizedUsers) != 2 || cfg.AuthorizedUsers[0] != "analyst" || cfg.AuthorizedUsers[1] != "ops" {
		t.Errorf("expected de-duplicated users, got %v", cfg.AuthorizedUsers)
	}

	got, err := reg.Get(ctx, "Transport", "bus_gps_v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Extra["retentionDays"]) != "30" {
		t.Errorf("expected unknown field kept verbatim, got %s", got.Extra["retentionDays"])
	}
}

func TestRegistry_RegisterOverwritesClientCreatedAt(t *testing.T) {
	tests := []struct {
		name      string
		createdAt string
	}{
		{"rfc3339", `"2020-01-01T00:00:00Z"`},
		{"date only", `"2020-01-01"`},
		{"epoch seconds", `1700000000`},
		{"null", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry()
			raw := []byte(`{"domain": "Transport", "endpointId": "bus_gps_v1", "tableName": "bus_gps", "createdAt": ` + tt.createdAt + `}`)

			cfg, err := reg.Register(context.Background(), raw)
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if !cfg.CreatedAt.Equal(fixedNow) {
				t.Errorf("expected createdAt %v, got %v", fixedNow, cfg.CreatedAt)
			}

			got, err := reg.Get(context.Background(), "Transport", "bus_gps_v1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !got.CreatedAt.Equal(fixedNow) {
				t.Errorf("expected stored createdAt %v, got %v", fixedNow, got.CreatedAt)
			}
			if _, ok := got.Extra["createdAt"]; ok {
				t.Error("client createdAt must not be kept as an extra field")
			}
		})
	}
}

func TestRegistry_RegisterRejects(t *testing.T) {
	reg := newTestRegistry()

	tests := []struct {
		name string
		body string
	}{
		{"not an object", `[{"domain": "Transport"}]`},
		{"empty body", ``},
		{"malformed json", `{"domain": `},
		{"missing domain", `{"endpointId": "bus_gps_v1"}`},
		{"missing endpoint", `{"domain": "Transport"}`},
		{"unsafe table name", `{"domain": "Transport", "endpointId": "bus_gps_v1", "tableName": "bus_gps; drop"}`},
		{"unknown field type", `{"domain": "Transport", "endpointId": "bus_gps_v1", "schemaDefinition": {"a": "DECIMAL"}}`},
		{"unknown ingestion type", `{"domain": "Transport", "endpointId": "bus_gps_v1", "ingestionType": "Carrier pigeon"}`},
		{"criticality out of range", `{"domain": "Transport", "endpointId": "bus_gps_v1", "criticalityLevel": 9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Register(context.Background(), []byte(tt.body))
			if errs.ClassOf(err) != errs.ClassValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegistry_ResolveUnknownEndpoint(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Resolve(context.Background(), "Unknown", "xyz")

	var notConfigured *errs.EndpointNotConfiguredError
	if !errors.As(err, &notConfigured) {
		t.Fatalf("expected EndpointNotConfiguredError, got %v", err)
	}
	if err.Error() != "Endpoint 'Unknown/xyz' not found or configured." {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if errs.ClassOf(err) != errs.ClassNotFound {
		t.Errorf("expected not_found class, got %s", errs.ClassOf(err))
	}
}

func TestRegistry_ResolveStoreFailure(t *testing.T) {
	store := NewConfigStore(NewFailedBackend(errors.New("unreachable")), testStoreOptions())
	reg := NewRegistry(store, logging.Discard())

	_, err := reg.Resolve(context.Background(), "Transport", "bus_gps_v1")
	if errs.ClassOf(err) != errs.ClassStore {
		t.Fatalf("expected store error, got %v", err)
	}
}
