// Package derivation turns free-form descriptions of data sources into
// endpoint configurations, transformation scripts and record summaries.
package derivation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// Deriver produces structured artifacts from natural language. Failures of
// the underlying model are reported as *errs.ExternalError; an empty prompt
// is a validation error.
type Deriver interface {
	DefineDomain(ctx context.Context, prompt string) (DomainDefinition, error)
	ExtractAPIMetadata(ctx context.Context, prompt string) (APIMetadata, error)
	GenerateTransformScript(ctx context.Context, prompt string) (TransformScript, error)
	SummarizeRecord(ctx context.Context, in SummarizeRecordInput) (RecordSummary, error)
}

// DeriveConfig runs the metadata and domain flows over text and merges them
// into one endpoint configuration. Metadata wins for endpoint identity,
// ingestion type and table name; the domain flow supplies the schema,
// criticality, roles and labels. The result is not stored.
func DeriveConfig(ctx context.Context, d Deriver, text string) (models.EndpointConfig, error) {
	if err := requirePrompt("prompt", text); err != nil {
		return models.EndpointConfig{}, err
	}

	meta, err := d.ExtractAPIMetadata(ctx, text)
	if err != nil {
		return models.EndpointConfig{}, err
	}
	def, err := d.DefineDomain(ctx, text)
	if err != nil {
		return models.EndpointConfig{}, err
	}

	cfg := models.EndpointConfig{
		Domain:                   firstNonEmpty(meta.Domain, def.DomainName),
		EndpointID:               strings.TrimSpace(meta.EndpointID),
		TableName:                SnakeCase(firstNonEmpty(meta.TableName, def.TableName)),
		IsTransformationRequired: meta.IsTransformationRequired,
		CriticalityLevel:         clampCriticality(def.CriticalityLevel),
		Labels:                   def.Labels,
		AuthorizedUsers:          mergeUsers(def.AuthorizedUsers, meta.DataUsers),
		Source:                   meta.Source,
		SourceSchema:             sourceSchema(meta.Schema),
		DataUsageInstructions:    meta.DataUsageInstructions,
		DataUsagePrompt:          meta.DataUsagePrompt,
		IsAttachment:             meta.IsAttachment,
		AttachmentType:           meta.AttachmentType,
	}

	if t, err := models.ParseIngestionType(meta.IngestionType); err == nil {
		cfg.IngestionType = t
	}

	if len(def.SchemaDefinition) > 0 {
		cfg.SchemaDefinition = make(models.Schema, len(def.SchemaDefinition))
		for field, raw := range def.SchemaDefinition {
			t, err := models.ParseFieldType(raw)
			if err != nil {
				t = models.FieldTypeString
			}
			cfg.SchemaDefinition[field] = t
		}
	}

	if err := models.ValidateKey(cfg.Domain, cfg.EndpointID); err != nil {
		return models.EndpointConfig{}, errs.External("derive endpoint config", errors.New("model did not return a domain and endpoint id"))
	}
	if cfg.TableName != "" && models.ValidateTableName(cfg.TableName) != nil {
		cfg.TableName = ""
	}
	return cfg, nil
}

// clampCriticality pulls a model-supplied level into 1..5; zero means unset.
func clampCriticality(level int) int {
	switch {
	case level == 0:
		return 0
	case level < 1:
		return 1
	case level > 5:
		return 5
	}
	return level
}

// sourceSchema keeps a JSON schema as-is and quotes anything else.
func sourceSchema(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) && (s[0] == '{' || s[0] == '[') {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func mergeUsers(groups ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		for _, u := range g {
			u = strings.TrimSpace(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// SnakeCase converts a free-form name into a lowercase snake_case identifier.
func SnakeCase(s string) string {
	var b strings.Builder
	prevLower := false
	pendingSep := false

	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'A' && r <= 'Z':
			if prevLower {
				pendingSep = true
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r + ('a' - 'A'))
			prevLower = false
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			prevLower = true
		default:
			pendingSep = true
			prevLower = false
		}
	}

	out := b.String()
	if len(out) > models.MaxTableNameLength {
		out = strings.TrimRight(out[:models.MaxTableNameLength], "_")
	}
	return out
}
