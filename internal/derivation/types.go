package derivation

import (
	"fmt"
	"strings"

	"github.com/citypulse/ingestgw/internal/errs"
)

// DomainDefinition is the structured description of a data domain.
type DomainDefinition struct {
	DomainName       string            `json:"domain_name"`
	CriticalityLevel int               `json:"criticality_level"`
	Labels           []string          `json:"labels"`
	AuthorizedUsers  []string          `json:"authorized_users"`
	SchemaDefinition map[string]string `json:"schema_definition"`
	TableName        string            `json:"table_name"`
}

func (d DomainDefinition) validate() error {
	if strings.TrimSpace(d.DomainName) == "" {
		return fmt.Errorf("domain definition has no domain_name")
	}
	if d.CriticalityLevel < 1 || d.CriticalityLevel > 5 {
		return fmt.Errorf("criticality_level %d is outside 1-5", d.CriticalityLevel)
	}
	return nil
}

// APIMetadata describes how an API endpoint delivers its data.
type APIMetadata struct {
	Domain                   string   `json:"domain,omitempty"`
	EndpointID               string   `json:"endpoint_id"`
	Schema                   string   `json:"schema"`
	Source                   string   `json:"source"`
	IsTransformationRequired bool     `json:"is_transformation_required"`
	IsAttachment             bool     `json:"is_attachment"`
	AttachmentType           string   `json:"attachment_type"`
	IngestionType            string   `json:"ingestion_type"`
	TableName                string   `json:"table_name"`
	DataUsageInstructions    string   `json:"Data_Usage_Instructions"`
	DataUsagePrompt          string   `json:"Data_Usage_Prompt"`
	DataUsers                []string `json:"Data_Users"`
}

func (m APIMetadata) validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return fmt.Errorf("api metadata has no endpoint_id")
	}
	return nil
}

// TransformScript is a generated transformation script.
type TransformScript struct {
	PythonScript string `json:"pythonScript"`
}

func (s TransformScript) validate() error {
	if strings.TrimSpace(s.PythonScript) == "" {
		return fmt.Errorf("empty transformation script")
	}
	return nil
}

// SummarizeRecordInput is a stored record presented for summarization.
type SummarizeRecordInput struct {
	UUID            string         `json:"uuid"`
	TableName       string         `json:"tableName"`
	Data            map[string]any `json:"data"`
	InsertTimestamp string         `json:"insert_timestamp"`
}

// Validate checks the record shape accepted by SummarizeRecord.
func (in SummarizeRecordInput) Validate() error {
	if strings.TrimSpace(in.TableName) == "" {
		return errs.Validation("tableName", "is required")
	}
	if in.Data == nil {
		return errs.Validation("data", "is required")
	}
	return nil
}

// RecordSummary is a plain-language summary of one record.
type RecordSummary struct {
	Summary string `json:"summary"`
}

func (s RecordSummary) validate() error {
	if strings.TrimSpace(s.Summary) == "" {
		return fmt.Errorf("empty summary")
	}
	return nil
}

func requirePrompt(field, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return errs.Validation(field, "is required")
	}
	return nil
}
