// Package llm provides the narrow language-model surface the rest of the
// service depends on: chat completion and text embedding, with timeouts
// and a shared circuit breaker in front of the provider.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the provider could not serve the request,
// whether the call failed or the circuit breaker is open.
var ErrUnavailable = errors.New("llm provider unavailable")

// Chat produces a completion for a single prompt.
type Chat interface {
	Complete(ctx context.Context, prompt string, opts ...Option) (string, error)
}

// Embedder maps texts to embedding vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type callOptions struct {
	temperature float64
	maxTokens   int
}

// Option adjusts a single completion call.
type Option func(*callOptions)

// WithTemperature overrides the configured sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *callOptions) { o.temperature = t }
}

// WithMaxTokens overrides the configured completion budget.
func WithMaxTokens(n int) Option {
	return func(o *callOptions) { o.maxTokens = n }
}
