package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaURL)
	assert.Equal(t, "ollama", cfg.LLMProvider)
	assert.Equal(t, 1<<20, cfg.MaxStreamBuffer)
	assert.Equal(t, time.Duration(0), cfg.WriteTimeout())
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.DSN())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("OLLAMA_API_URL", "https://ollama.example.com")
	t.Setenv("OLLAMA_DEFAULT_MODEL", "llama3.2")
	t.Setenv("MAX_STREAM_BUFFER", "4096")
	t.Setenv("WRITE_TIMEOUT_SECONDS", "30")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://ollama.example.com", cfg.OllamaURL)
	assert.Equal(t, "llama3.2", cfg.OllamaDefaultModel)
	assert.Equal(t, 4096, cfg.MaxStreamBuffer)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_ConfigFileBelowEnvironment(t *testing.T) {
	dir := t.TempDir()
	yaml := "port: \"9000\"\nllm_provider: ollama\nollama_default_model: qwen3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("OLLAMA_DEFAULT_MODEL", "mistral")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "mistral", cfg.OllamaDefaultModel)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "LOG_FORMAT")
}

func TestDSN_MasksPassword(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://chat:secret@db:5432/chat?sslmode=disable"}
	assert.NotContains(t, cfg.DSN(), "secret")
	assert.Contains(t, cfg.DSN(), "db:5432")
}
