// Package llm wraps the external model collaborator behind a small
// fallible contract. Callers apply their own timeout and retry; the client
// never retries on its own.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/steward-labs/steward/engine/errs"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/observability"
)

var tracer = otel.Tracer("steward/llm")

// Request is one structured model invocation.
type Request struct {
	// Purpose labels the call for metrics and tracing ("plan", "verify").
	Purpose string
	// System is the optional system prompt.
	System string
	// Prompt is the user-turn content.
	Prompt string
	// Temperature overrides the client default when non-nil.
	Temperature *float64
}

// Response is the model's structured reply.
type Response struct {
	Text string
}

// ModelClient is the external model collaborator contract, consumed by the
// planner and verifier. Treated as fallible and latent.
type ModelClient interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// =============================================================================
// OpenAI-compatible client
// =============================================================================

// Options configures the Client.
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string // optional, for OpenAI-compatible endpoints
	Temperature float64
}

// Client is a ModelClient backed by an OpenAI-compatible chat endpoint.
type Client struct {
	model       llms.Model
	logger      logging.Logger
	temperature float64
}

// New creates a Client.
func New(logger logging.Logger, opts Options) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	llmOpts := []openai.Option{
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.Model),
	}
	if opts.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(opts.BaseURL))
	}

	model, err := openai.New(llmOpts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		model:       model,
		logger:      logger.Bind("component", "llm"),
		temperature: opts.Temperature,
	}, nil
}

// Invoke sends one request to the model. All transport and provider errors
// are normalized to errs.ModelInvocationError.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "llm.invoke")
	span.SetAttributes(attribute.String("steward.llm.purpose", req.Purpose))
	defer span.End()

	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	elapsed := time.Since(start)

	if err != nil {
		observability.RecordModelCall(req.Purpose, "error", elapsed)
		c.logger.Error("model_call_failed",
			"purpose", req.Purpose,
			"duration_ms", elapsed.Milliseconds(),
			"error", err.Error(),
		)
		return nil, errs.NewModelInvocationError(err)
	}
	if len(resp.Choices) == 0 {
		observability.RecordModelCall(req.Purpose, "error", elapsed)
		return nil, errs.NewModelInvocationError(errModelEmpty)
	}

	observability.RecordModelCall(req.Purpose, "success", elapsed)
	c.logger.Debug("model_call_completed",
		"purpose", req.Purpose,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &Response{Text: resp.Choices[0].Content}, nil
}

var errModelEmpty = errors.New("model returned no choices")
