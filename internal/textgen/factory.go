package textgen

import (
	"context"
	"os"

	"kairo/internal/config"
	"kairo/internal/logging"
)

// NewChainFromEnv builds the provider fallback chain from whatever API
// keys are present in the environment. Priority order: Anthropic, then
// OpenAI, then Gemini. Returns ErrNoProviders if no key is set; the
// caller decides whether to run degraded.
func NewChainFromEnv(ctx context.Context, cfg *config.Config) (*Chain, error) {
	var generators []Generator

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		generators = append(generators,
			NewAnthropicClient(key, cfg.LLM.AnthropicModel, cfg.LLM.MaxRetries, cfg.LLMTimeout()))
		logging.Boot("text generation: anthropic enabled (model %s)", cfg.LLM.AnthropicModel)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		generators = append(generators, NewOpenAIClient(key, cfg.LLM.OpenAIModel))
		logging.Boot("text generation: openai enabled (model %s)", cfg.LLM.OpenAIModel)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		gem, err := NewGeminiClient(ctx, key, cfg.LLM.GeminiModel)
		if err != nil {
			logging.BootError("gemini client init failed: %v", err)
		} else {
			generators = append(generators, gem)
			logging.Boot("text generation: gemini enabled (model %s)", cfg.LLM.GeminiModel)
		}
	}

	if len(generators) == 0 {
		logging.BootError("no LLM API keys configured; transmissions will run offline")
		return NewChain(), ErrNoProviders
	}
	return NewChain(generators...), nil
}
