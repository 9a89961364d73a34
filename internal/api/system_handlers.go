package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/models"
)

// HealthCheck reports whether the backing store is reachable.
type HealthCheck func(ctx context.Context) error

// InferenceLogLister lists recorded model calls.
type InferenceLogLister interface {
	List(ctx context.Context, query models.InferenceLogQuery) ([]models.InferenceLog, error)
}

// ServiceInfo describes the running service for GET /api/info.
type ServiceInfo struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	StoreBackend string `json:"storeBackend"`
	Deriver      string `json:"deriver"`
	StrictSchema bool   `json:"strictSchema"`
}

// SystemHandler serves health, info and inference log routes.
type SystemHandler struct {
	info          ServiceInfo
	health        HealthCheck
	inferenceLogs InferenceLogLister
	logger        *slog.Logger
	startTime     time.Time
}

// NewSystemHandler creates a new handler. health and inferenceLogs may be nil.
func NewSystemHandler(info ServiceInfo, health HealthCheck, inferenceLogs InferenceLogLister, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		info:          info,
		health:        health,
		inferenceLogs: inferenceLogs,
		logger:        logger,
		startTime:     time.Now(),
	}
}

// Healthz handles GET /healthz
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			h.logger.Warn("health check failed", "error", errs.Loggable(err))
			writeError(w, h.logger, http.StatusServiceUnavailable, errs.ClassStore, "store unavailable: "+err.Error())
			return
		}
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// Info handles GET /api/info
func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"name":          h.info.Name,
		"version":       h.info.Version,
		"storeBackend":  h.info.StoreBackend,
		"deriver":       h.info.Deriver,
		"strictSchema":  h.info.StrictSchema,
		"uptimeSeconds": int(time.Since(h.startTime).Seconds()),
	})
}

// ListInferenceLogs handles GET /inference-logs
func (h *SystemHandler) ListInferenceLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.InferenceLogQuery{
		Operation: q.Get("operation"),
		Status:    models.InferenceStatus(q.Get("status")),
		Limit:     parseLimit(q.Get("limit"), 100, 1000),
	}

	logs := []models.InferenceLog{}
	if h.inferenceLogs != nil {
		var err error
		logs, err = h.inferenceLogs.List(r.Context(), query)
		if err != nil {
			h.logger.Error("failed to list inference logs", "error", errs.Loggable(err))
			writeClassified(w, h.logger, errs.Store("list inference logs", err))
			return
		}
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
		"limit": query.Limit,
	})
}
