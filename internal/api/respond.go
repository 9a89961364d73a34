package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/ingestion"
	"github.com/citypulse/ingestgw/internal/models"
)

const defaultMaxBodyBytes = 10 << 20

// StatusResponse is the tagged body returned by command routes and by every
// error. Status is "success" or "error".
type StatusResponse struct {
	Status     string                  `json:"status"`
	Message    string                  `json:"message"`
	Class      errs.Class              `json:"class,omitempty"`
	Violations []models.FieldViolation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, class errs.Class, message string) {
	writeJSON(w, logger, status, StatusResponse{Status: "error", Message: message, Class: class})
}

// writeClassified maps err to its HTTP status and writes the error body.
func writeClassified(w http.ResponseWriter, logger *slog.Logger, err error) {
	class := errs.ClassOf(err)
	resp := StatusResponse{Status: "error", Message: err.Error(), Class: class}

	var schemaErr *ingestion.SchemaError
	if errors.As(err, &schemaErr) {
		resp.Violations = schemaErr.Violations
	}
	writeJSON(w, logger, errs.HTTPStatus(class), resp)
}

// readBody reads at most limit bytes. Oversized and empty bodies are
// validation errors.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errs.Validationf("", "request body exceeds %d bytes", limit)
		}
		return nil, errs.Validationf("", "failed to read request body: %v", err)
	}
	return body, nil
}

// decodeObject reads a JSON object body into v.
func decodeObject(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body, err := readBody(w, r, limit)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errs.Validation("", "Request body must be a valid JSON object.")
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return errs.Validation("", fmt.Sprintf("Request body must be a valid JSON object: %v", err))
	}
	return nil
}
