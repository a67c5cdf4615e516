package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. Values come from defaults, an
// optional config.yaml and the environment, the latter taking precedence.
type Config struct {
	// Server
	Port                string `mapstructure:"port"`
	AppName             string `mapstructure:"app_name"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`

	// Ollama
	OllamaURL          string `mapstructure:"ollama_api_url"`
	OllamaToken        string `mapstructure:"ollama_token"` // Bearer token for Ollama Cloud (empty = local)
	OllamaDefaultModel string `mapstructure:"ollama_default_model"`
	MaxStreamBuffer    int    `mapstructure:"max_stream_buffer"`

	// Chat
	LLMProvider  string `mapstructure:"llm_provider"`
	SystemPrompt string `mapstructure:"system_prompt"`

	// Database (optional, enables the persistent audit trail)
	DatabaseURL string `mapstructure:"database_url"`

	// Telemetry (optional OTLP/HTTP endpoint)
	TelemetryURL string `mapstructure:"telemetry_url"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Frontend
	FrontendURL string `mapstructure:"frontend_url"`
}

var defaults = map[string]any{
	"port":                  "3001",
	"app_name":              "Ollama Chat",
	"write_timeout_seconds": 0,
	"ollama_api_url":        "http://localhost:11434",
	"ollama_token":          "",
	"ollama_default_model":  "",
	"max_stream_buffer":     1 << 20,
	"llm_provider":          "ollama",
	"system_prompt":         "",
	"database_url":          "",
	"telemetry_url":         "",
	"log_level":             "info",
	"log_format":            "text",
	"frontend_url":          "http://localhost:3000",
}

// Load reads configuration. config.yaml is looked up in the given directories,
// or in "." and "./config" when none are given; a missing file is not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// keys map to variables like OLLAMA_API_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("config: PORT must not be empty")
	}
	if c.MaxStreamBuffer < 0 {
		return fmt.Errorf("config: MAX_STREAM_BUFFER must not be negative, got %d", c.MaxStreamBuffer)
	}
	if c.WriteTimeoutSeconds < 0 {
		return fmt.Errorf("config: WRITE_TIMEOUT_SECONDS must not be negative, got %d", c.WriteTimeoutSeconds)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// WriteTimeout is the server write timeout; zero keeps long streams open.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// DSN returns the database URL for logging (password masked).
func (c *Config) DSN() string {
	if c.DatabaseURL == "" {
		return ""
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "(unparsable DATABASE_URL)"
	}
	return u.Redacted()
}
