package models

import (
	"encoding/json"
	"testing"
)

func TestParseFieldType(t *testing.T) {
	got, err := ParseFieldType(" geography ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != FieldTypeGeography {
		t.Errorf("expected GEOGRAPHY, got %q", got)
	}

	if _, err := ParseFieldType("DECIMAL"); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestCheckValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     FieldType
		value   any
		wantErr bool
	}{
		{name: "string ok", typ: FieldTypeString, value: "hello"},
		{name: "string from number", typ: FieldTypeString, value: 1.0, wantErr: true},
		{name: "integer ok", typ: FieldTypeInteger, value: 42.0},
		{name: "integer json number", typ: FieldTypeInteger, value: json.Number("7")},
		{name: "integer fractional", typ: FieldTypeInteger, value: 4.5, wantErr: true},
		{name: "float ok", typ: FieldTypeFloat, value: 1.25},
		{name: "float from string", typ: FieldTypeFloat, value: "1.25", wantErr: true},
		{name: "boolean ok", typ: FieldTypeBoolean, value: true},
		{name: "boolean from string", typ: FieldTypeBoolean, value: "true", wantErr: true},
		{name: "timestamp rfc3339", typ: FieldTypeTimestamp, value: "2024-05-01T10:00:00Z"},
		{name: "timestamp date", typ: FieldTypeTimestamp, value: "2024-05-01"},
		{name: "timestamp epoch", typ: FieldTypeTimestamp, value: 1714557600.0},
		{name: "timestamp garbage", typ: FieldTypeTimestamp, value: "yesterday", wantErr: true},
		{name: "geography wkt", typ: FieldTypeGeography, value: "POINT(23.72 37.98)"},
		{name: "geography geojson", typ: FieldTypeGeography, value: map[string]any{
			"type":        "Point",
			"coordinates": []any{23.72, 37.98},
		}},
		{name: "geography out of range", typ: FieldTypeGeography, value: "POINT(200 95)", wantErr: true},
		{name: "geography not wkt", typ: FieldTypeGeography, value: "somewhere", wantErr: true},
		{name: "geography number", typ: FieldTypeGeography, value: 3.0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckValue(tt.typ, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckValue(%s, %v) error = %v, wantErr %v", tt.typ, tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSchemaCheckReportsEveryViolation(t *testing.T) {
	schema := Schema{"lat": FieldTypeFloat, "lon": FieldTypeFloat, "route": FieldTypeString}
	record := Record{"lat": "north", "route": "X95", "extra": true}

	violations := schema.Check(3, record)
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %v", violations)
	}

	if violations[0].Field != "lat" || violations[0].Index != 3 {
		t.Errorf("unexpected first violation %+v", violations[0])
	}
	if violations[1].Field != "lon" || violations[1].Message != "is required" {
		t.Errorf("unexpected second violation %+v", violations[1])
	}
}
