package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/citypulse/ingestgw/internal/errs"
)

// EndpointConfig describes one dynamic ingestion endpoint. Fields that are not
// modelled explicitly are kept in Extra and written back verbatim.
type EndpointConfig struct {
	Domain                   string        `json:"domain"`
	EndpointID               string        `json:"endpointId"`
	TableName                string        `json:"tableName,omitempty"`
	SchemaDefinition         Schema        `json:"schemaDefinition,omitempty"`
	IngestionType            IngestionType `json:"ingestionType,omitempty"`
	IsTransformationRequired bool          `json:"isTransformationRequired"`
	TransformScript          string        `json:"transformScript,omitempty"`
	AuthorizedUsers          []string      `json:"authorizedUsers,omitempty"`
	CriticalityLevel         int           `json:"criticalityLevel,omitempty"`
	CreatedAt                time.Time     `json:"createdAt"`

	Source                string          `json:"source,omitempty"`
	SourceSchema          json.RawMessage `json:"schema,omitempty"` // sample payload schema as sent by the source
	Labels                []string        `json:"labels,omitempty"`
	DataUsageInstructions string          `json:"dataUsageInstructions,omitempty"`
	DataUsagePrompt       string          `json:"dataUsagePrompt,omitempty"`
	IsAttachment          bool            `json:"isAttachment,omitempty"`
	AttachmentType        string          `json:"attachmentType,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownConfigFields = []string{
	"domain", "endpointId", "tableName", "schemaDefinition", "ingestionType",
	"isTransformationRequired", "transformScript", "authorizedUsers",
	"criticalityLevel", "createdAt", "source", "schema", "labels",
	"dataUsageInstructions", "dataUsagePrompt", "isAttachment", "attachmentType",
}

// Key returns the composite lookup key "{domain}:{endpointId}".
func (c EndpointConfig) Key() string {
	return ConfigKey(c.Domain, c.EndpointID)
}

// ConfigKey builds the composite lookup key for an endpoint.
func ConfigKey(domain, endpointID string) string {
	return domain + ":" + endpointID
}

// Script returns the transformation script attached to the endpoint. Configs
// written by older clients carry it under "pythonScript".
func (c EndpointConfig) Script() string {
	if c.TransformScript != "" {
		return c.TransformScript
	}
	raw, ok := c.Extra["pythonScript"]
	if !ok {
		return ""
	}
	var script string
	if err := json.Unmarshal(raw, &script); err != nil {
		return ""
	}
	return script
}

// ValidateKey checks that both parts of the lookup key are present.
func ValidateKey(domain, endpointID string) error {
	if strings.TrimSpace(domain) == "" {
		return errs.Validation("domain", "is required")
	}
	if strings.TrimSpace(endpointID) == "" {
		return errs.Validation("endpointId", "is required")
	}
	return nil
}

// MarshalJSON writes the modelled fields merged over Extra.
func (c EndpointConfig) MarshalJSON() ([]byte, error) {
	type alias EndpointConfig
	base, err := json.Marshal(alias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return base, nil
	}

	var known map[string]json.RawMessage
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(c.Extra)+len(known))
	for k, v := range c.Extra {
		merged[k] = v
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads the modelled fields and keeps everything else in Extra.
// A createdAt that is not an RFC 3339 string decodes as the zero time; the
// config store stamps its own value on write.
func (c *EndpointConfig) UnmarshalJSON(data []byte) error {
	type alias EndpointConfig
	var a struct {
		alias
		CreatedAt json.RawMessage `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownConfigFields {
		delete(raw, k)
	}

	*c = EndpointConfig(a.alias)
	c.CreatedAt = time.Time{}
	if len(a.CreatedAt) > 0 {
		var ts time.Time
		if json.Unmarshal(a.CreatedAt, &ts) == nil {
			c.CreatedAt = ts
		}
	}
	c.Extra = nil
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// IngestionType describes how data reaches an endpoint.
type IngestionType string

const (
	IngestionTypeRestAPI    IngestionType = "RestAPI"
	IngestionTypeStreaming  IngestionType = "Streaming"
	IngestionTypeWebhooks   IngestionType = "Webhooks"
	IngestionTypeFileUpload IngestionType = "FileUpload"
)

var ingestionTypes = []IngestionType{
	IngestionTypeRestAPI,
	IngestionTypeStreaming,
	IngestionTypeWebhooks,
	IngestionTypeFileUpload,
}

// ParseIngestionType matches raw case-insensitively against the known types.
func ParseIngestionType(raw string) (IngestionType, error) {
	normalized := strings.TrimSpace(raw)
	for _, t := range ingestionTypes {
		if strings.EqualFold(string(t), normalized) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown ingestion type %q", raw)
}

// MaxTableNameLength matches the Postgres identifier limit.
const MaxTableNameLength = 63

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateTableName enforces lowercase snake_case identifiers of bounded length.
func ValidateTableName(name string) error {
	switch {
	case name == "":
		return errs.Validation("tableName", "is required")
	case len(name) > MaxTableNameLength:
		return errs.Validationf("tableName", "must be at most %d characters", MaxTableNameLength)
	case !tableNamePattern.MatchString(name):
		return errs.Validationf("tableName", "%q must be lowercase snake_case starting with a letter", name)
	}
	return nil
}
