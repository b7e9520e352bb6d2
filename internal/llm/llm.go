package llm

import (
	"context"
	"fmt"
	"maps"
	"time"
)

const defaultTimeout = 45 * time.Second

// OpenAI-compatible providers and their base URLs
var openAICompatibleProviders = map[string]string{
	"qwen":       "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"openai":     "https://api.openai.com/v1",
	"kimi":       "https://api.moonshot.ai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"together":   "https://api.together.xyz/v1",
	"fireworks":  "https://api.fireworks.ai/inference/v1",
	"perplexity": "https://api.perplexity.ai",
}

var defaultModels = map[string]string{
	"qwen":     "qwen-plus",
	"openai":   "gpt-4o-mini",
	"kimi":     "kimi-k2-0711-preview",
	"deepseek": "deepseek-chat",
	"ollama":   "qwen2:0.5b",
	"claude":   "claude-sonnet-4-20250514",
}

func New(cfg Config) (LLM, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}

	switch cfg.Provider {
	case "claude":
		return newClaude(cfg), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}

		// Ollama's OpenAI-compatible endpoint
		cfg.BaseURL = baseURL + "/v1"
		cfg.APIKey = "ollama"
		return newOpenAICompatible(cfg), nil
	default:
		baseURL, ok := openAICompatibleProviders[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
		}

		if cfg.BaseURL == "" {
			cfg.BaseURL = baseURL
		}

		if cfg.DisableThinking && cfg.Provider == "qwen" {
			extra := map[string]any{"enable_thinking": false}
			maps.Copy(extra, cfg.ExtraBody)
			cfg.ExtraBody = extra
		}

		return newOpenAICompatible(cfg), nil
	}
}

// KnownProviders returns all known provider IDs
func KnownProviders() []string {
	providers := []string{"claude", "ollama"}
	for p := range openAICompatibleProviders {
		providers = append(providers, p)
	}
	return providers
}

// IsKnownProvider checks if a provider is recognized
func IsKnownProvider(provider string) bool {
	switch provider {
	case "claude", "ollama":
		return true
	default:
		_, ok := openAICompatibleProviders[provider]
		return ok
	}
}

// Probe sends a minimal request to check that the endpoint accepts the
// configured credential.
func Probe(ctx context.Context, model LLM) error {
	_, err := model.Complete(ctx, []Message{{Role: "user", Content: "ping"}})
	return err
}
