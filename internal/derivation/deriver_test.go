package derivation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

type stubDeriver struct {
	def     DomainDefinition
	meta    APIMetadata
	metaErr error
}

func (s stubDeriver) DefineDomain(ctx context.Context, prompt string) (DomainDefinition, error) {
	return s.def, nil
}

func (s stubDeriver) ExtractAPIMetadata(ctx context.Context, prompt string) (APIMetadata, error) {
	return s.meta, s.metaErr
}

func (s stubDeriver) GenerateTransformScript(ctx context.Context, prompt string) (TransformScript, error) {
	return TransformScript{}, nil
}

func (s stubDeriver) SummarizeRecord(ctx context.Context, in SummarizeRecordInput) (RecordSummary, error) {
	return RecordSummary{}, nil
}

func TestDeriveConfig_MergesFlows(t *testing.T) {
	d := stubDeriver{
		def: DomainDefinition{
			DomainName:       "PublicTransport",
			CriticalityLevel: 4,
			Labels:           []string{"bus"},
			AuthorizedUsers:  []string{"Admin"},
			SchemaDefinition: map[string]string{"busId": "string", "lat": "FLOAT", "odd": "DECIMAL"},
			TableName:        "public_transport_bus",
		},
		meta: APIMetadata{
			Domain:        "Transport",
			EndpointID:    "bus_gps_v1",
			Schema:        `{"busId":"string"}`,
			IngestionType: "streaming",
			TableName:     "BusGPS",
			DataUsers:     []string{"Admin", "Traffic_Analyst"},
		},
	}

	cfg, err := DeriveConfig(context.Background(), d, "bus positions")
	if err != nil {
		t.Fatalf("DeriveConfig failed: %v", err)
	}

	if cfg.Domain != "Transport" || cfg.EndpointID != "bus_gps_v1" {
		t.Errorf("expected identity from metadata, got %s/%s", cfg.Domain, cfg.EndpointID)
	}
	if cfg.TableName != "bus_gps" {
		t.Errorf("expected metadata table name in snake_case, got %q", cfg.TableName)
	}
	if cfg.IngestionType != models.IngestionTypeStreaming {
		t.Errorf("expected Streaming, got %q", cfg.IngestionType)
	}
	if cfg.CriticalityLevel != 4 {
		t.Errorf("expected criticality from domain flow, got %d", cfg.CriticalityLevel)
	}
	if cfg.SchemaDefinition["busId"] != models.FieldTypeString || cfg.SchemaDefinition["odd"] != models.FieldTypeString {
		t.Errorf("unexpected schema: %v", cfg.SchemaDefinition)
	}
	if len(cfg.AuthorizedUsers) != 2 {
		t.Errorf("expected merged users, got %v", cfg.AuthorizedUsers)
	}
	if !json.Valid(cfg.SourceSchema) || string(cfg.SourceSchema) != `{"busId":"string"}` {
		t.Errorf("expected source schema kept as JSON, got %s", cfg.SourceSchema)
	}
}

func TestDeriveConfig_ClampsCriticality(t *testing.T) {
	tests := []struct {
		level int
		want  int
	}{
		{0, 0},
		{-2, 1},
		{3, 3},
		{7, 5},
	}

	for _, tt := range tests {
		d := stubDeriver{
			def:  DomainDefinition{DomainName: "Transport", CriticalityLevel: tt.level},
			meta: APIMetadata{Domain: "Transport", EndpointID: "bus_gps_v1"},
		}
		cfg, err := DeriveConfig(context.Background(), d, "bus positions")
		if err != nil {
			t.Fatalf("DeriveConfig(level %d) failed: %v", tt.level, err)
		}
		if cfg.CriticalityLevel != tt.want {
			t.Errorf("criticality %d: got %d, want %d", tt.level, cfg.CriticalityLevel, tt.want)
		}
	}
}

func TestDeriveConfig_PropagatesFailures(t *testing.T) {
	ext := errs.External("extract_api_metadata", errors.New("boom"))
	_, err := DeriveConfig(context.Background(), stubDeriver{metaErr: ext}, "bus positions")
	if !errors.Is(err, ext) {
		t.Errorf("expected metadata failure, got %v", err)
	}

	_, err = DeriveConfig(context.Background(), stubDeriver{def: DomainDefinition{DomainName: "X"}}, "bus positions")
	if errs.ClassOf(err) != errs.ClassExternal {
		t.Errorf("expected external error for missing endpoint id, got %v", err)
	}

	_, err = DeriveConfig(context.Background(), stubDeriver{}, "")
	if errs.ClassOf(err) != errs.ClassValidation {
		t.Errorf("expected validation error for empty text, got %v", err)
	}
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"BusGPS":           "bus_gps",
		"bus_gps_v1":       "bus_gps_v1",
		"Air Quality Data": "air_quality_data",
		"  traffic-cams ":  "traffic_cams",
		"PM2.5 Readings":   "pm2_5_readings",
		"":                 "",
	}
	for in, want := range tests {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
