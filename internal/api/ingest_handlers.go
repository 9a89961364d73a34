package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/ingestion"
	"github.com/citypulse/ingestgw/internal/models"
)

// IngestHandler serves the dynamic ingestion route.
type IngestHandler struct {
	pipeline     *ingestion.Pipeline
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewIngestHandler creates a new handler.
func NewIngestHandler(pipeline *ingestion.Pipeline, maxBodyBytes int64, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		pipeline:     pipeline,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// IngestResponse is returned for a successful ingestion.
type IngestResponse struct {
	Status           string   `json:"status"`
	Message          string   `json:"message"`
	RowsAccepted     int      `json:"rowsAccepted"`
	TableName        string   `json:"tableName"`
	DocumentIDs      []string `json:"documentIds,omitempty"`
	TransformSkipped bool     `json:"transformSkipped,omitempty"`
	Replayed         bool     `json:"replayed,omitempty"`
}

// Ingest handles POST /ingest/{domain}/{endpointId}
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		writeClassified(w, h.logger, err)
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), ingestion.Request{
		Domain:         r.PathValue("domain"),
		EndpointID:     r.PathValue("endpointId"),
		Body:           body,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, IngestResponse{
		Status:           "success",
		Message:          fmt.Sprintf("Successfully ingested %d records into '%s'.", result.RowsAccepted, result.TableName),
		RowsAccepted:     result.RowsAccepted,
		TableName:        result.TableName,
		DocumentIDs:      result.DocumentIDs,
		TransformSkipped: result.TransformSkipped,
		Replayed:         result.Replayed,
	})
}

func (h *IngestHandler) writeIngestError(w http.ResponseWriter, err error) {
	// A missing table is a configuration fault, not a client error.
	if errors.Is(err, ingestion.ErrTableNameNotConfigured) {
		writeError(w, h.logger, http.StatusInternalServerError, errs.ClassInternal, err.Error())
		return
	}

	var failed *ingestion.FailedError
	if errs.ClassOf(err) == errs.ClassStore && errors.As(err, &failed) && failed.Stage == ingestion.StagePersisting {
		writeError(w, h.logger, http.StatusInternalServerError, errs.ClassStore, "Failed to insert data: "+err.Error())
		return
	}

	writeClassified(w, h.logger, err)
}

// ListIngestions handles GET /ingestions
func (h *IngestHandler) ListIngestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.IngestionRunQuery{
		Domain:     q.Get("domain"),
		EndpointID: q.Get("endpointId"),
		Status:     models.RunStatus(q.Get("status")),
		Limit:      parseLimit(q.Get("limit"), 100, 1000),
	}

	runs, err := h.pipeline.Runs(r.Context(), query)
	if err != nil {
		h.logger.Error("failed to list ingestion runs", "error", errs.Loggable(err))
		writeClassified(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func parseLimit(raw string, def, max int) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
