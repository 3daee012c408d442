package llm

import (
	"fmt"

	"github.com/Phaedra-DevGroup/bishopgame/internal/config"
	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
)

// NewFromConfig creates the backend client named by the configuration.
// Environment overrides (OPENAI_API_KEY, GEMINI_API_KEY, OLLAMA_HOST) have
// already been folded into cfg by config.Load.
func NewFromConfig(cfg *config.Config) (Client, error) {
	opts := Options{
		Temperature:   cfg.LLM.Temperature,
		ContextWindow: cfg.LLM.ContextWindow,
		MaxTokens:     cfg.LLM.ReplyTokens,
		KeepAlive:     cfg.LLM.KeepAlive,
	}
	timeout := cfg.GetChatTimeout()

	switch cfg.LLM.Provider {
	case "ollama":
		logging.Boot("LLM backend: ollama model=%s base=%s", cfg.LLM.Model, cfg.LLM.BaseURL)
		return NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model, opts, timeout), nil

	case "openai":
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		logging.Boot("LLM backend: openai model=%s", cfg.LLM.Model)
		return NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, opts, timeout), nil

	case "gemini":
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key")
		}
		logging.Boot("LLM backend: gemini model=%s", cfg.LLM.Model)
		return NewGeminiClient(cfg.LLM.APIKey, cfg.LLM.Model, opts, timeout), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (valid: %v)", cfg.LLM.Provider, config.ValidProviders)
	}
}
