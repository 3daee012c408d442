package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the config reads so tests are hermetic.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "OLLAMA_HOST", "BISHOPGAME_SAVE", "BISHOPGAME_CASEBOOK"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, 150, cfg.LLM.ReplyTokens)
	assert.Equal(t, 20, cfg.Game.HistoryLimit)
	assert.Equal(t, "data/savegame.json", cfg.Game.SavePath)
	assert.Empty(t, cfg.Game.CasebookPath, "default casebook is embedded")
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.Model, cfg.LLM.Model)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  model: llama3\n  temperature: 0.9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 0.9, cfg.LLM.Temperature)
	// Untouched fields keep their defaults
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 20, cfg.Game.HistoryLimit)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestOpenAIKeySwitchesProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	// The ollama base URL must not leak to the hosted provider
	assert.Empty(t, cfg.LLM.BaseURL)
	require.NoError(t, cfg.Validate())
}

func TestGeminiKeyWinsOverOpenAI(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "gm-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gm-test", cfg.LLM.APIKey)
}

func TestOllamaHostOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_HOST", "http://gpubox:11434")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://gpubox:11434", cfg.LLM.BaseURL)
}

func TestOllamaHostIgnoredForHostedProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_HOST", "http://gpubox:11434")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.LLM.BaseURL)
}

func TestPathOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BISHOPGAME_SAVE", "/tmp/alt-save.json")
	t.Setenv("BISHOPGAME_CASEBOOK", "/tmp/alt-chars.json")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/alt-save.json", cfg.Game.SavePath)
	assert.Equal(t, "/tmp/alt-chars.json", cfg.Game.CasebookPath)
}

func TestSaveRoundtrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "mistral"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mistral", loaded.LLM.Model)
}

func TestTimeoutGetters(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 300*time.Second, cfg.GetChatTimeout())
	assert.Equal(t, 180*time.Second, cfg.GetWarmupTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetHealthTimeout())

	cfg.LLM.ChatTimeout = "2m"
	assert.Equal(t, 2*time.Minute, cfg.GetChatTimeout())

	// Unparseable values fall back to the defaults
	cfg.LLM.ChatTimeout = "soon"
	assert.Equal(t, 300*time.Second, cfg.GetChatTimeout())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.LLM.Provider = "watson"
	assert.Error(t, cfg.Validate())

	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = ""
	assert.Error(t, cfg.Validate(), "hosted providers need a key")

	cfg.LLM.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())

	cfg.Game.HistoryLimit = 1
	assert.Error(t, cfg.Validate())
}
