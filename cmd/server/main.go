package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citypulse/ingestgw/internal/api"
	"github.com/citypulse/ingestgw/internal/config"
	"github.com/citypulse/ingestgw/internal/database"
	"github.com/citypulse/ingestgw/internal/derivation"
	"github.com/citypulse/ingestgw/internal/inference"
	"github.com/citypulse/ingestgw/internal/ingestion"
	"github.com/citypulse/ingestgw/internal/logging"
	"github.com/citypulse/ingestgw/internal/metrics"
	"github.com/citypulse/ingestgw/internal/scheduler"
	"github.com/citypulse/ingestgw/internal/server"
)

const (
	serviceName    = "ingestgw"
	serviceVersion = "0.3.0"
)

// pruner is implemented by history stores that support retention.
type pruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// backends groups the persistence implementations selected at startup.
type backends struct {
	configs   ingestion.ConfigBackend
	records   ingestion.RecordBackend
	runs      ingestion.RunLog
	inference inference.Sink
	inferLogs api.InferenceLogLister
	health    api.HealthCheck
	db        *sql.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting ingestion gateway", "version", serviceVersion, "store", cfg.Store.Backend)

	ctx := context.Background()
	b := openBackends(ctx, cfg, logger)
	if b.db != nil {
		defer b.db.Close()
	}

	collector, err := metrics.NewHTTPCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	ingestMetrics, err := metrics.NewIngestionMetrics(collector.Registry())
	if err != nil {
		logger.Error("failed to init ingestion metrics", "error", err)
		os.Exit(1)
	}

	storeOpts := ingestion.StoreOptions{Timeout: cfg.Store.CallTimeout}
	registry := ingestion.NewRegistry(ingestion.NewConfigStore(b.configs, storeOpts), logging.Component(logger, "registry"))
	records := ingestion.NewRecordStore(b.records, storeOpts)

	pipelineConfig := ingestion.DefaultPipelineConfig()
	pipelineConfig.StrictSchema = cfg.Ingestion.StrictSchema
	pipelineConfig.MaxBatchSize = cfg.Ingestion.MaxBatchSize
	pipelineConfig.IdempotencyWindow = cfg.Ingestion.IdempotencyWindow
	pipeline := ingestion.NewPipeline(registry, records, b.runs, ingestMetrics, logging.Component(logger, "pipeline"), pipelineConfig)

	inferenceLogger := inference.NewLogger(b.inference, logging.Component(logger, "inference"))

	maintenance := scheduler.NewMaintenanceScheduler(
		maintenanceTasks(cfg.Ingestion, b, pipeline),
		cfg.Ingestion.MaintenanceInterval,
		logging.Component(logger, "maintenance"),
	)
	go maintenance.Start(ctx)

	var deriver derivation.Deriver
	deriverName := "rules"
	if cfg.OpenAI.APIKey != "" {
		openaiConfig := derivation.DefaultOpenAIConfig()
		openaiConfig.Model = cfg.OpenAI.Model
		openaiConfig.Temperature = cfg.OpenAI.Temperature
		openaiConfig.Timeout = cfg.OpenAI.Timeout
		deriver = derivation.NewOpenAIDeriver(cfg.OpenAI.APIKey, openaiConfig, logging.Component(logger, "deriver"), inferenceLogger)
		deriverName = "openai:" + cfg.OpenAI.Model
		logger.Info("using OpenAI deriver", "model", cfg.OpenAI.Model)
	} else {
		logger.Warn("OPENAI_API_KEY not set, using rule-based deriver")
		deriver = derivation.NewRuleDeriver()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", collector.Handler())

	api.SetupRoutes(mux, api.Dependencies{
		Registry:      registry,
		Pipeline:      pipeline,
		Deriver:       deriver,
		Health:        b.health,
		InferenceLogs: b.inferLogs,
		Info: api.ServiceInfo{
			Name:         serviceName,
			Version:      serviceVersion,
			StoreBackend: cfg.Store.Backend,
			Deriver:      deriverName,
			StrictSchema: cfg.Ingestion.StrictSchema,
		},
		MaxBodyBytes: cfg.Ingestion.MaxBodyBytes,
	}, logger)

	handler := server.CORSMiddleware(
		server.RequestLogger(collector.InstrumentHandler(mux), logger),
		cfg.Server.AllowedOrigin,
	)

	srv := server.New(cfg.Server, logger, handler)

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	waitForSignal(logger)

	logger.Info("shutting down")
	maintenance.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	inferenceLogger.Wait()
	logger.Info("shutdown complete")
}

// openBackends selects the store implementation. When Postgres cannot be
// reached at startup the process still serves health and derivation routes,
// and every store call reports the connection error.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) backends {
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		inferenceSink := inference.NewMemorySink()
		return backends{
			configs:   ingestion.NewMemoryConfigBackend(),
			records:   ingestion.NewMemoryRecordBackend(),
			runs:      ingestion.NewMemoryRunLog(),
			inference: inferenceSink,
			inferLogs: inferenceSink,
		}
	}

	logger.Info("connecting to database", "url", config.RedactDatabaseURL(cfg.Store.DatabaseURL))

	db, err := database.Open(ctx, database.PoolOptionsFromStore(cfg.Store))
	if err != nil {
		return failedBackends(err, logger)
	}
	logger.Info("database connected")

	if err := database.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return failedBackends(fmt.Errorf("run migrations: %w", err), logger)
	}

	inferenceRepo := database.NewInferenceLogRepository(db)
	return backends{
		configs:   database.NewEndpointConfigRepository(db),
		records:   database.NewRecordRepository(db, cfg.Store.RecordsSchema),
		runs:      database.NewIngestionRunRepository(db),
		inference: inferenceRepo,
		inferLogs: inferenceRepo,
		health: func(ctx context.Context) error {
			return database.Ping(ctx, db, 2*time.Second)
		},
		db: db,
	}
}

func failedBackends(cause error, logger *slog.Logger) backends {
	logger.Error("store unavailable, store calls will fail", "error", cause)
	failed := ingestion.NewFailedBackend(cause)
	return backends{
		configs: failed,
		records: failed,
		runs:    ingestion.FailedRunLog{FailedBackend: failed},
		health: func(context.Context) error {
			return cause
		},
	}
}

func maintenanceTasks(cfg config.IngestionConfig, b backends, pipeline *ingestion.Pipeline) []scheduler.Task {
	tasks := []scheduler.Task{{
		Name: "expire-idempotency-keys",
		Run: func(context.Context) (int64, error) {
			return int64(pipeline.ExpireReplays()), nil
		},
	}}
	if cfg.RunRetention <= 0 {
		return tasks
	}

	if p, ok := b.runs.(pruner); ok {
		tasks = append(tasks, scheduler.Task{
			Name: "prune-ingestion-runs",
			Run: func(ctx context.Context) (int64, error) {
				return p.DeleteOlderThan(ctx, cfg.RunRetention)
			},
		})
	}
	if p, ok := b.inference.(pruner); ok {
		tasks = append(tasks, scheduler.Task{
			Name: "prune-inference-logs",
			Run: func(ctx context.Context) (int64, error) {
				return p.DeleteOlderThan(ctx, cfg.RunRetention)
			},
		})
	}
	return tasks
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
	close(c)
}
