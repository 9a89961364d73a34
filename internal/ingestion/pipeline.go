package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/metrics"
	"github.com/citypulse/ingestgw/internal/models"
)

// Stage names a step of an ingestion call.
type Stage string

const (
	StageResolving    Stage = "resolving"
	StageValidating   Stage = "validating_payload"
	StageTransforming Stage = "transforming"
	StagePersisting   Stage = "persisting"
	StageDone         Stage = "done"
)

// ErrTableNameNotConfigured is returned when the resolved endpoint has no
// target table. It is a configuration fault rather than a client error.
var ErrTableNameNotConfigured = &errs.ValidationError{Message: "Table name not configured for this endpoint."}

// FailedError reports the stage at which an ingestion call stopped. Its
// message is the message of the underlying error.
type FailedError struct {
	Stage Stage
	Err   error
}

func (e *FailedError) Error() string { return e.Err.Error() }

func (e *FailedError) Unwrap() error { return e.Err }

// SchemaError lists every record field that failed strict schema checks.
type SchemaError struct {
	Violations []models.FieldViolation
}

const maxReportedViolations = 10

func (e *SchemaError) Error() string {
	parts := make([]string, 0, maxReportedViolations)
	for i, v := range e.Violations {
		if i == maxReportedViolations {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Violations)-i))
			break
		}
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%d schema violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Unwrap classifies schema failures as validation errors.
func (e *SchemaError) Unwrap() error {
	return &errs.ValidationError{Field: "records", Message: "do not match the endpoint schema"}
}

// Request is one ingestion call.
type Request struct {
	Domain         string
	EndpointID     string
	Body           []byte
	IdempotencyKey string
}

// PipelineConfig holds configuration for the ingestion pipeline.
type PipelineConfig struct {
	StrictSchema      bool
	MaxBatchSize      int
	IdempotencyWindow time.Duration
	RunLogTimeout     time.Duration
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		StrictSchema:  false,
		MaxBatchSize:  5000,
		RunLogTimeout: 2 * time.Second,
	}
}

// Pipeline runs ingestion calls: resolve the endpoint, validate the payload,
// apply the transformation stage and persist the batch.
type Pipeline struct {
	registry    *Registry
	records     *RecordStore
	transformer Transformer
	runs        RunLog
	replay      *IdempotencyCache
	metrics     *metrics.IngestionMetrics
	logger      *slog.Logger
	config      PipelineConfig
	now         func() time.Time
}

// NewPipeline creates a new ingestion pipeline. runs and m may be nil.
func NewPipeline(
	registry *Registry,
	records *RecordStore,
	runs RunLog,
	m *metrics.IngestionMetrics,
	logger *slog.Logger,
	config PipelineConfig,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RunLogTimeout <= 0 {
		config.RunLogTimeout = DefaultPipelineConfig().RunLogTimeout
	}

	var replay *IdempotencyCache
	if config.IdempotencyWindow > 0 {
		replay = NewIdempotencyCache(config.IdempotencyWindow)
	}

	return &Pipeline{
		registry:    registry,
		records:     records,
		transformer: UnsupportedTransformer{},
		runs:        runs,
		replay:      replay,
		metrics:     m,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// WithTransformer replaces the transformation stage.
func (p *Pipeline) WithTransformer(t Transformer) *Pipeline {
	p.transformer = t
	return p
}

// Ingest validates and persists one request. Failures are returned as
// *FailedError carrying the stage that failed.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (models.IngestResult, error) {
	start := p.now()

	result, records, stage, err := p.run(ctx, req)
	p.finish(ctx, req, result, records, stage, err, start)

	if err != nil {
		return models.IngestResult{}, &FailedError{Stage: stage, Err: err}
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (models.IngestResult, int, Stage, error) {
	cfg, err := p.registry.Resolve(ctx, req.Domain, req.EndpointID)
	if err != nil {
		return models.IngestResult{}, 0, StageResolving, err
	}

	var replayKey, fingerprint string
	if p.replay != nil && req.IdempotencyKey != "" {
		replayKey = ReplayKey(req.Domain, req.EndpointID, req.IdempotencyKey)
		fingerprint = Fingerprint(req.Body)

		prev, ok, err := p.replay.Lookup(replayKey, fingerprint)
		if err != nil {
			return models.IngestResult{}, 0, StageValidating, err
		}
		if ok {
			prev.Replayed = true
			return prev, prev.RowsAccepted, StageDone, nil
		}
	}

	records, err := DecodeRecords(req.Body)
	if err != nil {
		return models.IngestResult{}, 0, StageValidating, err
	}
	if cfg.TableName == "" {
		return models.IngestResult{}, len(records), StageValidating, ErrTableNameNotConfigured
	}
	if p.config.MaxBatchSize > 0 && len(records) > p.config.MaxBatchSize {
		return models.IngestResult{}, len(records), StageValidating,
			errs.Validationf("records", "batch of %d exceeds the limit of %d", len(records), p.config.MaxBatchSize)
	}
	if p.config.StrictSchema && len(cfg.SchemaDefinition) > 0 {
		var violations []models.FieldViolation
		for i, rec := range records {
			violations = append(violations, cfg.SchemaDefinition.Check(i, rec)...)
		}
		if len(violations) > 0 {
			return models.IngestResult{}, len(records), StageValidating, &SchemaError{Violations: violations}
		}
	}

	skipped := false
	if cfg.IsTransformationRequired || cfg.Script() != "" {
		out, err := p.transformer.Transform(ctx, cfg.Script(), records)
		switch {
		case errors.Is(err, ErrTransformNotSupported):
			skipped = true
			p.metrics.ObserveTransformSkipped(cfg.Domain)
			p.logger.Warn("transformation skipped, storing records untransformed",
				"domain", cfg.Domain,
				"endpoint_id", cfg.EndpointID,
			)
		case err != nil:
			return models.IngestResult{}, len(records), StageTransforming, errs.Wrap(err, "transform records")
		default:
			records = out
		}
	}

	summary, err := p.records.InsertBatch(ctx, cfg.TableName, records)
	if err != nil {
		return models.IngestResult{}, len(records), StagePersisting, err
	}

	result := models.IngestResult{
		Status:           "success",
		RowsAccepted:     summary.RowsAdded,
		TableName:        cfg.TableName,
		DocumentIDs:      summary.DocumentIDs,
		TransformSkipped: skipped,
	}
	if replayKey != "" {
		p.replay.Remember(replayKey, fingerprint, result)
	}
	return result, len(records), StageDone, nil
}

// finish records metrics, the run log entry and the outcome log line.
func (p *Pipeline) finish(ctx context.Context, req Request, result models.IngestResult, records int, stage Stage, err error, start time.Time) {
	duration := p.now().Sub(start)

	run := models.IngestionRun{
		ID:               uuid.NewString(),
		Domain:           req.Domain,
		EndpointID:       req.EndpointID,
		TableName:        result.TableName,
		Records:          records,
		Status:           models.RunStatusSucceeded,
		TransformSkipped: result.TransformSkipped,
		DurationMs:       int(duration.Milliseconds()),
		IngestedAt:       start.UTC(),
	}

	switch {
	case err != nil:
		class := errs.ClassOf(err)
		run.Status = models.RunStatusFailed
		run.ErrorClass = string(class)
		run.Message = err.Error()
		p.metrics.ObserveFailed(string(class))

		attrs := []any{
			"domain", req.Domain,
			"endpoint_id", req.EndpointID,
			"stage", stage,
			"error", errs.Loggable(err),
		}
		if errs.HTTPStatus(class) >= 500 || errors.Is(err, ErrTableNameNotConfigured) {
			p.logger.Error("ingestion failed", attrs...)
		} else {
			p.logger.Info("ingestion rejected", attrs...)
		}

	case result.Replayed:
		run.Status = models.RunStatusReplayed
		p.metrics.ObserveReplayed()
		p.logger.Info("ingestion replayed",
			"domain", req.Domain,
			"endpoint_id", req.EndpointID,
			"rows", result.RowsAccepted,
		)

	default:
		p.metrics.ObserveCommitted(result.TableName, result.RowsAccepted)
		p.logger.Info("records ingested",
			"domain", req.Domain,
			"endpoint_id", req.EndpointID,
			"table", result.TableName,
			"rows", result.RowsAccepted,
			"duration_ms", run.DurationMs,
		)
	}

	if p.runs == nil {
		return
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.RunLogTimeout)
	defer cancel()
	if err := p.runs.Log(logCtx, run); err != nil {
		p.logger.Warn("failed to record ingestion run", "error", errs.Loggable(err))
	}
}

// Runs returns the recorded ingestion history.
func (p *Pipeline) Runs(ctx context.Context, q models.IngestionRunQuery) ([]models.IngestionRun, error) {
	if p.runs == nil {
		return []models.IngestionRun{}, nil
	}
	runs, err := p.runs.List(ctx, q)
	if err != nil {
		return nil, errs.Store("list ingestion runs", err)
	}
	return runs, nil
}

// ExpireReplays drops remembered results that fell out of the idempotency
// window. It returns zero when replay is disabled.
func (p *Pipeline) ExpireReplays() int {
	if p.replay == nil {
		return 0
	}
	return p.replay.Expire()
}

// DecodeRecords accepts a single JSON object or an array of JSON objects.
// Numbers are kept as json.Number so integers survive unchanged.
func DecodeRecords(body []byte) ([]models.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errs.Validation("", "request body must be a JSON object or an array of objects")
	}

	switch trimmed[0] {
	case '{':
		var rec models.Record
		if err := decodeStrict(trimmed, &rec); err != nil {
			return nil, errs.Validationf("", "invalid JSON body: %v", err)
		}
		return []models.Record{rec}, nil

	case '[':
		var items []json.RawMessage
		if err := decodeStrict(trimmed, &items); err != nil {
			return nil, errs.Validationf("", "invalid JSON body: %v", err)
		}
		records := make([]models.Record, 0, len(items))
		for i, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) == 0 || item[0] != '{' {
				return nil, errs.Validationf(fmt.Sprintf("records[%d]", i), "must be a JSON object")
			}
			var rec models.Record
			if err := decodeStrict(item, &rec); err != nil {
				return nil, errs.Validationf(fmt.Sprintf("records[%d]", i), "invalid JSON: %v", err)
			}
			records = append(records, rec)
		}
		return records, nil

	default:
		return nil, errs.Validation("", "request body must be a JSON object or an array of objects")
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
