package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// FieldType is the declared type of a schema field.
type FieldType string

const (
	FieldTypeString    FieldType = "STRING"
	FieldTypeInteger   FieldType = "INTEGER"
	FieldTypeTimestamp FieldType = "TIMESTAMP"
	FieldTypeFloat     FieldType = "FLOAT"
	FieldTypeBoolean   FieldType = "BOOLEAN"
	FieldTypeGeography FieldType = "GEOGRAPHY"
)

// ParseFieldType normalizes raw to one of the supported field types.
func ParseFieldType(raw string) (FieldType, error) {
	t := FieldType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case FieldTypeString, FieldTypeInteger, FieldTypeTimestamp,
		FieldTypeFloat, FieldTypeBoolean, FieldTypeGeography:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported field type %q", raw)
	}
}

// Schema maps field names to their declared types.
type Schema map[string]FieldType

// Fields returns the declared field names in sorted order.
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldViolation describes one record field that does not match the schema.
type FieldViolation struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v FieldViolation) String() string {
	return fmt.Sprintf("record %d: %s: %s", v.Index, v.Field, v.Message)
}

// Check validates a record against the schema. Every declared field must be
// present and non-null; undeclared fields are allowed.
func (s Schema) Check(index int, record Record) []FieldViolation {
	var violations []FieldViolation
	for _, field := range s.Fields() {
		value, ok := record[field]
		if !ok || value == nil {
			violations = append(violations, FieldViolation{Index: index, Field: field, Message: "is required"})
			continue
		}
		if err := CheckValue(s[field], value); err != nil {
			violations = append(violations, FieldViolation{Index: index, Field: field, Message: err.Error()})
		}
	}
	return violations
}

// CheckValue reports whether a decoded JSON value is acceptable for t.
func CheckValue(t FieldType, value any) error {
	switch t {
	case FieldTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %s", jsonKind(value))
		}
	case FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %s", jsonKind(value))
		}
	case FieldTypeFloat:
		if _, ok := toFloat(value); !ok {
			return fmt.Errorf("expected number, got %s", jsonKind(value))
		}
	case FieldTypeInteger:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected integer, got %s", jsonKind(value))
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got %v", f)
		}
	case FieldTypeTimestamp:
		return checkTimestamp(value)
	case FieldTypeGeography:
		return checkGeography(value)
	default:
		return fmt.Errorf("unsupported field type %q", t)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func checkTimestamp(value any) error {
	switch v := value.(type) {
	case string:
		for _, layout := range timestampLayouts {
			if _, err := time.Parse(layout, v); err == nil {
				return nil
			}
		}
		return fmt.Errorf("expected timestamp, got %q", v)
	default:
		// Numeric timestamps are epoch seconds.
		if _, ok := toFloat(value); ok {
			return nil
		}
		return fmt.Errorf("expected timestamp, got %s", jsonKind(value))
	}
}

// checkGeography accepts a WKT string or a GeoJSON geometry object.
func checkGeography(value any) error {
	var geom orb.Geometry

	switch v := value.(type) {
	case string:
		g, err := wkt.Unmarshal(v)
		if err != nil {
			return fmt.Errorf("expected WKT geometry: %v", err)
		}
		geom = g
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("expected GeoJSON geometry: %v", err)
		}
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return fmt.Errorf("expected GeoJSON geometry: %v", err)
		}
		geom = g.Geometry()
	default:
		return fmt.Errorf("expected geography, got %s", jsonKind(value))
	}

	if geom == nil {
		return fmt.Errorf("expected geography, got empty geometry")
	}

	b := geom.Bound()
	if b.Min.Lon() < -180 || b.Max.Lon() > 180 || b.Min.Lat() < -90 || b.Max.Lat() > 90 {
		return fmt.Errorf("coordinates out of range")
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := strconv.ParseFloat(string(v), 64)
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
