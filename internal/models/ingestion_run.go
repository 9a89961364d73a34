package models

import "time"

// RunStatus is the terminal state of an ingestion call.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusReplayed  RunStatus = "replayed"
)

// IngestionRun records one ingestion call for the history view.
type IngestionRun struct {
	ID               string    `json:"id"`
	Domain           string    `json:"domain"`
	EndpointID       string    `json:"endpointId"`
	TableName        string    `json:"tableName,omitempty"`
	Records          int       `json:"records"`
	Status           RunStatus `json:"status"`
	ErrorClass       string    `json:"errorClass,omitempty"`
	Message          string    `json:"message,omitempty"`
	TransformSkipped bool      `json:"transformSkipped,omitempty"`
	DurationMs       int       `json:"durationMs"`
	IngestedAt       time.Time `json:"ingestedAt"`
}

// IngestionRunQuery filters the run history.
type IngestionRunQuery struct {
	Domain     string
	EndpointID string
	Status     RunStatus
	Limit      int
}
