// Package config loads and persists the detective game configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all game configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Game data paths and limits
	Game GameConfig `yaml:"game"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the suspect model backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // ollama, openai, gemini
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`

	// Generation options. ContextWindow and KeepAlive only apply to ollama.
	Temperature    float64 `yaml:"temperature"`
	ContextWindow  int     `yaml:"context_window"`
	ReplyTokens    int     `yaml:"reply_tokens"` // per-turn cap for suspect answers
	KeepAlive      string  `yaml:"keep_alive"`
	ChatTimeout    string  `yaml:"chat_timeout"`
	WarmupTimeout  string  `yaml:"warmup_timeout"`
	HealthTimeout  string  `yaml:"health_timeout"`
}

// GameConfig configures game data locations.
type GameConfig struct {
	DataDir      string `yaml:"data_dir"`      // logs, prompt dumps
	SavePath     string `yaml:"save_path"`     // JSON save file
	CasebookPath string `yaml:"casebook_path"` // character database override; empty = embedded
	TranscriptDB string `yaml:"transcript_db"` // sqlite transcript store
	HistoryLimit int    `yaml:"history_limit"` // messages kept per suspect
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "bishopgame",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider:      "ollama",
			Model:         "gemma3n",
			BaseURL:       "http://localhost:11434",
			Temperature:   0.7,
			ContextWindow: 4096,
			ReplyTokens:   150,
			KeepAlive:     "1h",
			ChatTimeout:   "300s",
			WarmupTimeout: "180s",
			HealthTimeout: "5s",
		},

		Game: GameConfig{
			DataDir:      "data",
			SavePath:     "data/savegame.json",
			CasebookPath: "",
			TranscriptDB: "data/transcripts.db",
			HistoryLimit: 20,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// API keys in the environment switch the provider in priority order.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider != "openai" {
			c.LLM.Provider = "openai"
			c.LLM.BaseURL = "" // client falls back to the API default
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider != "gemini" {
			c.LLM.Provider = "gemini"
			c.LLM.BaseURL = ""
		}
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" && c.LLM.Provider == "ollama" {
		c.LLM.BaseURL = host
	}

	if path := os.Getenv("BISHOPGAME_SAVE"); path != "" {
		c.Game.SavePath = path
	}
	if path := os.Getenv("BISHOPGAME_CASEBOOK"); path != "" {
		c.Game.CasebookPath = path
	}
}

// GetChatTimeout returns the interrogation timeout as a duration.
func (c *Config) GetChatTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.ChatTimeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// GetWarmupTimeout returns the warm-up generation timeout as a duration.
func (c *Config) GetWarmupTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.WarmupTimeout)
	if err != nil {
		return 180 * time.Second
	}
	return d
}

// GetHealthTimeout returns the backend health check timeout as a duration.
func (c *Config) GetHealthTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.HealthTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"ollama", "openai", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	// Ollama is keyless; hosted providers are not.
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return fmt.Errorf("%s provider requires an API key (set OPENAI_API_KEY or GEMINI_API_KEY)", c.LLM.Provider)
	}

	if c.Game.HistoryLimit < 2 {
		return fmt.Errorf("history_limit must be at least 2, got %d", c.Game.HistoryLimit)
	}

	return nil
}
