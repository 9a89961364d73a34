package api

import (
	"log/slog"
	"net/http"

	"github.com/citypulse/ingestgw/internal/derivation"
	"github.com/citypulse/ingestgw/internal/ingestion"
)

// Dependencies are the components served by the HTTP surface.
type Dependencies struct {
	Registry      *ingestion.Registry
	Pipeline      *ingestion.Pipeline
	Deriver       derivation.Deriver
	Health        HealthCheck
	InferenceLogs InferenceLogLister
	Info          ServiceInfo
	MaxBodyBytes  int64
}

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, deps Dependencies, logger *slog.Logger) {
	ingest := NewIngestHandler(deps.Pipeline, deps.MaxBodyBytes, logger)
	configs := NewConfigHandler(deps.Registry, deps.Deriver, deps.MaxBodyBytes, logger)
	derive := NewDerivationHandler(deps.Deriver, deps.MaxBodyBytes, logger)
	system := NewSystemHandler(deps.Info, deps.Health, deps.InferenceLogs, logger)

	// Configuration helpers
	mux.HandleFunc("POST /define-data-domain", derive.DefineDataDomain)
	mux.HandleFunc("POST /extract-api-metadata", derive.ExtractAPIMetadata)
	mux.HandleFunc("POST /generate-transformation-script", derive.GenerateTransformationScript)
	mux.HandleFunc("POST /summarize-record", derive.SummarizeRecord)

	// Endpoint configurations
	mux.HandleFunc("POST /store-endpoint-config", configs.StoreEndpointConfig)
	mux.HandleFunc("POST /derive-endpoint-config", configs.DeriveEndpointConfig)
	mux.HandleFunc("GET /endpoint-config/{domain}/{endpointId}", configs.GetEndpointConfig)
	mux.HandleFunc("GET /endpoint-configs", configs.ListEndpointConfigs)

	// Ingestion
	mux.HandleFunc("POST /ingest/{domain}/{endpointId}", ingest.Ingest)
	mux.HandleFunc("GET /ingestions", ingest.ListIngestions)

	// System
	mux.HandleFunc("GET /healthz", system.Healthz)
	mux.HandleFunc("GET /api/info", system.Info)
	mux.HandleFunc("GET /inference-logs", system.ListInferenceLogs)
}
