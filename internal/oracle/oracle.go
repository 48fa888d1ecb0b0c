// Package oracle abstracts the LLM backends that translate utterances into
// structured plans and reflect on execution progress.
package oracle

import (
	"context"
	"fmt"
	"os"
	"strings"

	"zenus/internal/config"
	"zenus/internal/logging"
)

// LLMClient is the minimal completion surface every backend implements.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// StreamingClient is implemented by backends that can deliver completion
// chunks as they arrive. The full text is still returned at the end.
type StreamingClient interface {
	CompleteStream(ctx context.Context, systemPrompt, userPrompt string, onChunk func(string)) (string, error)
}

// TranslationError means the oracle responded but the response could not be
// turned into a valid plan.
type TranslationError struct {
	Utterance string
	Raw       string
	Cause     error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("failed to translate %q: %v", e.Utterance, e.Cause)
}

func (e *TranslationError) Unwrap() error { return e.Cause }

// NewClient builds the client named by config, falling back to environment
// detection when the provider is unset.
func NewClient(cfg *config.Config) (LLMClient, error) {
	provider := strings.ToLower(cfg.LLM.Provider)
	if provider == "" {
		provider = detectProvider()
	}

	switch provider {
	case "gemini":
		key := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("gemini selected but GEMINI_API_KEY is not set")
		}
		return NewGeminiClient(key, cfg.LLM.Model)

	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("anthropic selected but ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicClient(key, cfg.LLM.Model, cfg.LLM.MaxTokens), nil

	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("openai selected but OPENAI_API_KEY is not set")
		}
		return NewOpenAIClient(key, "https://api.openai.com/v1", cfg.LLM.Model, cfg.LLM.MaxTokens), nil

	case "local", "ollama":
		return NewOpenAIClient("", cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens), nil
	}

	return nil, fmt.Errorf("unknown llm provider %q", provider)
}

// detectProvider picks a backend from the environment, preferring hosted
// keys over a local endpoint.
func detectProvider() string {
	switch {
	case firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY") != "":
		return "gemini"
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		return "anthropic"
	case os.Getenv("OPENAI_API_KEY") != "":
		return "openai"
	}
	logging.Oracle("no API keys found, assuming local endpoint")
	return "local"
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
