package llm

import (
	"testing"

	"github.com/Phaedra-DevGroup/bishopgame/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	client, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, ok := client.(*OllamaClient); !ok {
		t.Errorf("client = %T, want *OllamaClient", client)
	}

	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	client, err = NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := client.(*OpenAIClient); !ok {
		t.Errorf("client = %T, want *OpenAIClient", client)
	}

	cfg.LLM.Provider = "gemini"
	client, err = NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	if _, ok := client.(*GeminiClient); !ok {
		t.Errorf("client = %T, want *GeminiClient", client)
	}
}

func TestNewFromConfigRejectsBadSetups(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = ""
	if _, err := NewFromConfig(cfg); err == nil {
		t.Error("openai without a key should fail")
	}

	cfg.LLM.Provider = "gemini"
	if _, err := NewFromConfig(cfg); err == nil {
		t.Error("gemini without a key should fail")
	}

	cfg.LLM.Provider = "watson"
	if _, err := NewFromConfig(cfg); err == nil {
		t.Error("unknown provider should fail")
	}
}
