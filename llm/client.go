package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	log "github.com/sirupsen/logrus"
)

// Config selects the provider endpoint and the guardrails around it.
type Config struct {
	APIKey     string
	BaseURL    string // empty means the provider's default endpoint
	Model      string
	EmbedModel string

	Temperature float64
	MaxTokens   int

	RequestTimeout time.Duration // per completion call
	EmbedTimeout   time.Duration // per embedding batch

	BreakerFailures uint32        // consecutive failures before the breaker opens
	BreakerCooldown time.Duration // open duration before a half-open probe
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.EmbedModel == "" {
		c.EmbedModel = "text-embedding-3-small"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// embeddingClient is the slice of the provider client used for embeddings.
type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Client implements Chat and Embedder over an OpenAI-compatible endpoint.
// Completion and embedding calls share one circuit breaker, so a failing
// provider is cut off for both.
type Client struct {
	model    llms.Model
	embedder embeddingClient
	breaker  *gobreaker.CircuitBreaker
	cfg      Config
}

// NewClient connects Config to a provider endpoint.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	var opts = []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbedModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	var model, err = openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("building provider client: %w", err)
	}
	return newClient(model, model, cfg), nil
}

func newClient(model llms.Model, embedder embeddingClient, cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		model:    model,
		embedder: embedder,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llm",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(log.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("llm circuit breaker state change")
			},
		}),
		cfg: cfg,
	}
}

// Cooldown is the breaker's open duration, usable as a retry hint.
func (c *Client) Cooldown() time.Duration { return c.cfg.BreakerCooldown }

// Complete requests a single completion for prompt. Provider failures and
// an open breaker both surface as ErrUnavailable.
func (c *Client) Complete(ctx context.Context, prompt string, opts ...Option) (string, error) {
	var call = callOptions{
		temperature: c.cfg.Temperature,
		maxTokens:   c.cfg.MaxTokens,
	}
	for _, o := range opts {
		o(&call)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var started = time.Now()
	var out, err = c.breaker.Execute(func() (interface{}, error) {
		return llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
			llms.WithTemperature(call.temperature),
			llms.WithMaxTokens(call.maxTokens),
		)
	})
	requestSeconds.WithLabelValues("complete").Observe(time.Since(started).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("complete", "error").Inc()
		return "", unavailable("completion", err)
	}
	requestsTotal.WithLabelValues("complete", "ok").Inc()
	return out.(string), nil
}

// Embed returns one embedding vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
	defer cancel()

	var started = time.Now()
	var out, err = c.breaker.Execute(func() (interface{}, error) {
		return c.embedder.CreateEmbedding(ctx, texts)
	})
	requestSeconds.WithLabelValues("embed").Observe(time.Since(started).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("embed", "error").Inc()
		return nil, unavailable("embedding", err)
	}
	requestsTotal.WithLabelValues("embed", "ok").Inc()

	var vectors = out.([][]float32)
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embedding returned %d vectors for %d texts",
			ErrUnavailable, len(vectors), len(texts))
	}
	return vectors, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return fmt.Errorf("%w: %s: %s", ErrUnavailable, op, err)
}
