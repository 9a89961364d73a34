package derivation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/citypulse/ingestgw/internal/errs"
	"github.com/citypulse/ingestgw/internal/inference"
)

// OpenAIConfig holds model settings for OpenAIDeriver.
type OpenAIConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Retry       RetryPolicy
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:       openai.GPT4oMini,
		Temperature: 0.2,
		MaxTokens:   2000,
		Timeout:     60 * time.Second,
		Retry:       DefaultRetryPolicy(),
	}
}

// OpenAIDeriver implements Deriver with OpenAI chat completions in JSON mode.
type OpenAIDeriver struct {
	client          *openai.Client
	config          OpenAIConfig
	logger          *slog.Logger
	inferenceLogger *inference.Logger
}

// NewOpenAIDeriver creates a deriver for the OpenAI API.
func NewOpenAIDeriver(apiKey string, config OpenAIConfig, logger *slog.Logger, inferenceLogger *inference.Logger) *OpenAIDeriver {
	return NewOpenAIDeriverWithClient(openai.NewClient(apiKey), config, logger, inferenceLogger)
}

// NewOpenAIDeriverWithClient creates a deriver around an existing client.
func NewOpenAIDeriverWithClient(client *openai.Client, config OpenAIConfig, logger *slog.Logger, inferenceLogger *inference.Logger) *OpenAIDeriver {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIConfig().Model
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultOpenAIConfig().Timeout
	}
	return &OpenAIDeriver{
		client:          client,
		config:          config,
		logger:          logger,
		inferenceLogger: inferenceLogger,
	}
}

// DefineDomain derives a domain definition from a description.
func (d *OpenAIDeriver) DefineDomain(ctx context.Context, prompt string) (DomainDefinition, error) {
	if err := requirePrompt("prompt", prompt); err != nil {
		return DomainDefinition{}, err
	}

	system, user := defineDomainPrompts(prompt)
	var out DomainDefinition
	if err := d.complete(ctx, "define_data_domain", system, user, d.config.Temperature, &out); err != nil {
		return DomainDefinition{}, err
	}
	if err := out.validate(); err != nil {
		return DomainDefinition{}, errs.External("define_data_domain", err)
	}
	return out, nil
}

// ExtractAPIMetadata derives API metadata from a description.
func (d *OpenAIDeriver) ExtractAPIMetadata(ctx context.Context, prompt string) (APIMetadata, error) {
	if err := requirePrompt("prompt", prompt); err != nil {
		return APIMetadata{}, err
	}

	system, user := extractMetadataPrompts(prompt)
	var out APIMetadata
	if err := d.complete(ctx, "extract_api_metadata", system, user, d.config.Temperature, &out); err != nil {
		return APIMetadata{}, err
	}
	if err := out.validate(); err != nil {
		return APIMetadata{}, errs.External("extract_api_metadata", err)
	}
	return out, nil
}

// GenerateTransformScript produces a transformation script for a request.
func (d *OpenAIDeriver) GenerateTransformScript(ctx context.Context, prompt string) (TransformScript, error) {
	if err := requirePrompt("transformationPrompt", prompt); err != nil {
		return TransformScript{}, err
	}

	system, user := transformScriptPrompts(prompt)
	var out TransformScript
	if err := d.complete(ctx, "generate_transformation_script", system, user, d.config.Temperature, &out); err != nil {
		return TransformScript{}, err
	}
	if err := out.validate(); err != nil {
		return TransformScript{}, errs.External("generate_transformation_script", err)
	}
	return out, nil
}

// SummarizeRecord summarizes one stored record in plain English.
func (d *OpenAIDeriver) SummarizeRecord(ctx context.Context, in SummarizeRecordInput) (RecordSummary, error) {
	if err := in.Validate(); err != nil {
		return RecordSummary{}, err
	}

	system, user, err := summarizeRecordPrompts(in)
	if err != nil {
		return RecordSummary{}, errs.Validation("data", err.Error())
	}

	var out RecordSummary
	if err := d.complete(ctx, "summarize_record", system, user, d.config.Temperature+0.1, &out); err != nil {
		return RecordSummary{}, err
	}
	if err := out.validate(); err != nil {
		return RecordSummary{}, errs.External("summarize_record", err)
	}
	return out, nil
}

// complete sends one JSON-mode chat completion and decodes the reply into
// out. Rate-limited calls are retried with the configured policy.
func (d *OpenAIDeriver) complete(ctx context.Context, operation, system, user string, temperature float32, out any) error {
	request := openai.ChatCompletionRequest{
		Model:               d.config.Model,
		Temperature:         temperature,
		MaxCompletionTokens: d.config.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	err := d.config.Retry.Do(ctx, func(attempt int) error {
		start := time.Now()

		apiCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
		resp, err := d.client.CreateChatCompletion(apiCtx, request)
		cancel()

		latency := time.Since(start)
		d.logger.Debug("openai call complete",
			"operation", operation,
			"attempt", attempt,
			"duration_ms", latency.Milliseconds(),
			"success", err == nil,
		)

		call := inference.Call{
			Provider:  "openai",
			Model:     d.config.Model,
			Operation: operation,
			Attempt:   attempt,
			Latency:   latency,
			Err:       err,
		}
		if err == nil {
			call.Usage = inference.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		} else {
			call.RateLimited = isRateLimit(err)
		}
		d.inferenceLogger.Record(ctx, call)

		if err != nil {
			if call.RateLimited {
				return Transient(err, 0)
			}
			return err
		}

		if len(resp.Choices) == 0 {
			return errors.New("model returned no choices")
		}
		content := stripCodeFence(resp.Choices[0].Message.Content)
		if err := json.Unmarshal([]byte(content), out); err != nil {
			return fmt.Errorf("model returned invalid JSON: %w", err)
		}
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		d.logger.Warn("OpenAI rate limit hit, backing off",
			"operation", operation,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds())
	})
	if err != nil {
		d.logger.Error("openai call failed", "operation", operation, "error", errs.Loggable(err))
		return errs.External(operation, err)
	}
	return nil
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "Rate limit")
}

// stripCodeFence removes a markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
