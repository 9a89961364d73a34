package models

import "time"

// Fields injected into every stored record. Client values are overwritten.
const (
	RecordIDField        = "uuid"
	RecordTimestampField = "insertTimestamp"
)

// Record is one loosely typed client-submitted data item.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Stamp sets the store-assigned identity fields.
func (r Record) Stamp(id string, at time.Time) {
	r[RecordIDField] = id
	r[RecordTimestampField] = at
}

// InsertionSummary reports the outcome of one committed batch.
type InsertionSummary struct {
	RowsAdded   int      `json:"rowsAdded"`
	DocumentIDs []string `json:"documentIds"`
	Success     bool     `json:"success"`
}

// IngestResult is returned by a completed ingestion call.
type IngestResult struct {
	Status           string   `json:"status"`
	RowsAccepted     int      `json:"rowsAccepted"`
	TableName        string   `json:"tableName"`
	DocumentIDs      []string `json:"documentIds,omitempty"`
	TransformSkipped bool     `json:"transformSkipped,omitempty"`
	Replayed         bool     `json:"replayed,omitempty"`
}
