package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/citypulse/ingestgw/internal/derivation"
	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/ingestion"
)

// ConfigHandler serves endpoint configuration routes.
type ConfigHandler struct {
	registry     *ingestion.Registry
	deriver      derivation.Deriver
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewConfigHandler creates a new handler.
func NewConfigHandler(registry *ingestion.Registry, deriver derivation.Deriver, maxBodyBytes int64, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{
		registry:     registry,
		deriver:      deriver,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// StoreEndpointConfig handles POST /store-endpoint-config
func (h *ConfigHandler) StoreEndpointConfig(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBodyBytes)
	if err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, errs.ClassValidation, "Request body must be a valid JSON.")
		return
	}

	cfg, err := h.registry.Register(r.Context(), body)
	if err != nil {
		// Rejected configs are reported as server errors on this route.
		h.logger.Warn("failed to store endpoint config", "error", errs.Loggable(err))
		writeError(w, h.logger, http.StatusInternalServerError, errs.ClassOf(err), err.Error())
		return
	}

	writeJSON(w, h.logger, http.StatusOK, StatusResponse{
		Status:  "success",
		Message: fmt.Sprintf("Configuration for endpoint '%s' stored successfully.", cfg.Key()),
	})
}

// GetEndpointConfig handles GET /endpoint-config/{domain}/{endpointId}
func (h *ConfigHandler) GetEndpointConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.registry.Get(r.Context(), r.PathValue("domain"), r.PathValue("endpointId"))
	if err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cfg)
}

// ListEndpointConfigs handles GET /endpoint-configs
func (h *ConfigHandler) ListEndpointConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.registry.List(r.Context(), r.URL.Query().Get("domain"))
	if err != nil {
		h.logger.Error("failed to list endpoint configs", "error", errs.Loggable(err))
		writeClassified(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"configs": configs,
		"count":   len(configs),
	})
}

// DeriveEndpointConfig handles POST /derive-endpoint-config
func (h *ConfigHandler) DeriveEndpointConfig(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeObject(w, r, h.maxBodyBytes, &req); err != nil {
		writeClassified(w, h.logger, err)
		return
	}

	cfg, err := derivation.DeriveConfig(r.Context(), h.deriver, req.Prompt)
	if err != nil {
		writeClassified(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cfg)
}
