package derivation

import (
	"context"
	"strings"
	"testing"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

func TestRuleDeriver_DefineDomain(t *testing.T) {
	d := NewRuleDeriver()

	tests := []struct {
		name        string
		prompt      string
		domain      string
		criticality int
		field       string
	}{
		{"transport", "GPS positions of city buses every 10 seconds", "Transport", 4, "location"},
		{"air quality", "Hourly PM2.5 readings from air quality sensors", "AirQuality", 3, "value"},
		{"emergency", "Ambulance dispatch incidents", "EmergencyServices", 5, "id"},
		{"fallback", "Library opening hours", "General", 1, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := d.DefineDomain(context.Background(), tt.prompt)
			if err != nil {
				t.Fatalf("DefineDomain failed: %v", err)
			}
			if def.DomainName != tt.domain || def.CriticalityLevel != tt.criticality {
				t.Errorf("got %s/%d, want %s/%d", def.DomainName, def.CriticalityLevel, tt.domain, tt.criticality)
			}
			if _, ok := def.SchemaDefinition[tt.field]; !ok {
				t.Errorf("expected field %q in schema %v", tt.field, def.SchemaDefinition)
			}
			if err := models.ValidateTableName(def.TableName); err != nil {
				t.Errorf("derived table name %q is not usable: %v", def.TableName, err)
			}
			if err := def.validate(); err != nil {
				t.Errorf("definition does not validate: %v", err)
			}
		})
	}
}

func TestRuleDeriver_ExtractAPIMetadata(t *testing.T) {
	d := NewRuleDeriver()

	meta, err := d.ExtractAPIMetadata(context.Background(), "Webhook from https://fleet.example.com/api pushing bus positions as CSV files")
	if err != nil {
		t.Fatalf("ExtractAPIMetadata failed: %v", err)
	}
	if meta.EndpointID != "bus_v1" {
		t.Errorf("expected endpoint bus_v1, got %q", meta.EndpointID)
	}
	if meta.Source != "https://fleet.example.com/api" {
		t.Errorf("expected source URL, got %q", meta.Source)
	}
	if meta.IngestionType != "Webhooks" {
		t.Errorf("expected Webhooks, got %q", meta.IngestionType)
	}
	if !meta.IsAttachment || meta.AttachmentType != "CSV" {
		t.Errorf("expected CSV attachment, got %v/%q", meta.IsAttachment, meta.AttachmentType)
	}
}

func TestRuleDeriver_DeriveConfigIsRegistrable(t *testing.T) {
	cfg, err := DeriveConfig(context.Background(), NewRuleDeriver(), "Real-time tram positions")
	if err != nil {
		t.Fatalf("DeriveConfig failed: %v", err)
	}
	if err := models.ValidateKey(cfg.Domain, cfg.EndpointID); err != nil {
		t.Errorf("derived key invalid: %v", err)
	}
	if cfg.TableName == "" {
		t.Error("expected a table name")
	}
	if cfg.IngestionType != models.IngestionTypeStreaming {
		t.Errorf("expected Streaming, got %q", cfg.IngestionType)
	}
}

func TestRuleDeriver_GenerateTransformScript(t *testing.T) {
	script, err := NewRuleDeriver().GenerateTransformScript(context.Background(), "convert speed from mph to km/h")
	if err != nil {
		t.Fatalf("GenerateTransformScript failed: %v", err)
	}
	if !strings.Contains(script.PythonScript, "def transform(data):") {
		t.Errorf("script lacks transform function:\n%s", script.PythonScript)
	}
	if !strings.Contains(script.PythonScript, "# convert speed from mph to km/h") {
		t.Errorf("script does not document the request:\n%s", script.PythonScript)
	}
}

func TestRuleDeriver_SummarizeRecord(t *testing.T) {
	d := NewRuleDeriver()

	out, err := d.SummarizeRecord(context.Background(), SummarizeRecordInput{
		TableName: "bus_gps",
		Data:      map[string]any{"busId": "B1", "lat": 1.5},
	})
	if err != nil {
		t.Fatalf("SummarizeRecord failed: %v", err)
	}
	want := "A record from bus_gps with 2 field(s): busId is B1, lat is 1.5."
	if out.Summary != want {
		t.Errorf("got %q, want %q", out.Summary, want)
	}

	_, err = d.SummarizeRecord(context.Background(), SummarizeRecordInput{Data: map[string]any{}})
	if errs.ClassOf(err) != errs.ClassValidation {
		t.Errorf("expected validation error without table name, got %v", err)
	}
}
