// Package textgen abstracts the LLM providers behind a single Generator
// interface with an ordered fallback chain. KAIRO's deliberation pipeline
// never talks to a provider directly; it asks the chain and treats a
// fully-exhausted chain as the offline case.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kairo/internal/logging"
)

// ErrNoProviders is returned by the factory when no provider credentials
// are configured.
var ErrNoProviders = errors.New("no text generation providers configured")

// Request describes one generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Generator produces text for a request. Implementations must honor the
// context deadline and return an error rather than blocking past it.
type Generator interface {
	// Name identifies the provider in logs.
	Name() string
	// Generate returns the model's text output, trimmed.
	Generate(ctx context.Context, req Request) (string, error)
}

// Chain tries each generator in order and returns the first success.
type Chain struct {
	generators []Generator
}

// NewChain builds a fallback chain. Order is priority order.
func NewChain(generators ...Generator) *Chain {
	return &Chain{generators: generators}
}

// Name lists the chain members.
func (c *Chain) Name() string {
	names := make([]string, len(c.generators))
	for i, g := range c.generators {
		names[i] = g.Name()
	}
	return "chain[" + strings.Join(names, ",") + "]"
}

// Len returns the number of providers in the chain.
func (c *Chain) Len() int {
	return len(c.generators)
}

// Generate walks the chain in order. A provider returning an empty string
// counts as a failure. The returned error wraps the last provider error
// once every provider has been tried.
func (c *Chain) Generate(ctx context.Context, req Request) (string, error) {
	if len(c.generators) == 0 {
		return "", ErrNoProviders
	}
	var lastErr error
	for _, g := range c.generators {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := g.Generate(ctx, req)
		if err != nil {
			logging.Get(logging.CategoryAPI).Warn("provider %s failed: %v", g.Name(), err)
			lastErr = err
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			logging.Get(logging.CategoryAPI).Warn("provider %s returned empty output", g.Name())
			lastErr = fmt.Errorf("provider %s returned empty output", g.Name())
			continue
		}
		return text, nil
	}
	return "", fmt.Errorf("all providers failed: %w", lastErr)
}
