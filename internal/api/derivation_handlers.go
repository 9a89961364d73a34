package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/citypulse/ingestgw/internal/derivation"
	"github.com/citypulse/ingestgw/internal/errs"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type transformationRequest struct {
	TransformationPrompt string `json:"transformationPrompt"`
}

// DerivationHandler serves the model-backed helper routes.
type DerivationHandler struct {
	deriver      derivation.Deriver
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewDerivationHandler creates a new handler.
func NewDerivationHandler(deriver derivation.Deriver, maxBodyBytes int64, logger *slog.Logger) *DerivationHandler {
	return &DerivationHandler{
		deriver:      deriver,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// DefineDataDomain handles POST /define-data-domain
func (h *DerivationHandler) DefineDataDomain(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeObject(w, r, h.maxBodyBytes, &req); err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, h.logger, http.StatusBadRequest, errs.ClassValidation, "Request body must include 'prompt'.")
		return
	}

	result, err := h.deriver.DefineDomain(r.Context(), req.Prompt)
	if err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// ExtractAPIMetadata handles POST /extract-api-metadata
func (h *DerivationHandler) ExtractAPIMetadata(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeObject(w, r, h.maxBodyBytes, &req); err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, h.logger, http.StatusBadRequest, errs.ClassValidation, "Request body must include a 'prompt'.")
		return
	}

	result, err := h.deriver.ExtractAPIMetadata(r.Context(), req.Prompt)
	if err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// GenerateTransformationScript handles POST /generate-transformation-script
func (h *DerivationHandler) GenerateTransformationScript(w http.ResponseWriter, r *http.Request) {
	var req transformationRequest
	if err := decodeObject(w, r, h.maxBodyBytes, &req); err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.TransformationPrompt) == "" {
		writeError(w, h.logger, http.StatusBadRequest, errs.ClassValidation, "Request body must include 'transformationPrompt'.")
		return
	}

	result, err := h.deriver.GenerateTransformScript(r.Context(), req.TransformationPrompt)
	if err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// SummarizeRecord handles POST /summarize-record
func (h *DerivationHandler) SummarizeRecord(w http.ResponseWriter, r *http.Request) {
	var req derivation.SummarizeRecordInput
	if err := decodeObject(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, errs.ClassValidation, "Request body must be a valid JSON record.")
		return
	}

	result, err := h.deriver.SummarizeRecord(r.Context(), req)
	if err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}
