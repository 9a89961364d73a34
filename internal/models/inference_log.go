package models

import "time"

// InferenceStatus is the outcome of one model call.
type InferenceStatus string

const (
	InferenceSucceeded   InferenceStatus = "success"
	InferenceFailed      InferenceStatus = "error"
	InferenceRateLimited InferenceStatus = "rate_limited"
)

// InferenceLog records one call made by a config deriver.
type InferenceLog struct {
	ID               string          `json:"id"`
	Provider         string          `json:"provider"`
	Model            string          `json:"model"`
	Operation        string          `json:"operation"`
	Attempt          int             `json:"attempt"`
	PromptTokens     int             `json:"promptTokens"`
	CompletionTokens int             `json:"completionTokens"`
	TotalTokens      int             `json:"totalTokens"`
	LatencyMs        int             `json:"latencyMs"`
	Status           InferenceStatus `json:"status"`
	Error            string          `json:"error,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// InferenceLogQuery filters the inference history.
type InferenceLogQuery struct {
	Operation string
	Status    InferenceStatus
	Limit     int
}
