// Package config provides configuration loading for the jive server.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ToolMode selects which tool surface the server registers.
type ToolMode string

const (
	// ToolModeConsolidated registers only the consolidated jive_* tools.
	ToolModeConsolidated ToolMode = "consolidated"
	// ToolModeFull additionally registers the legacy aliases.
	ToolModeFull ToolMode = "full"
)

// Valid reports whether the mode is known.
func (m ToolMode) Valid() bool {
	return m == ToolModeConsolidated || m == ToolModeFull
}

// Config holds all server configuration.
type Config struct {
	// Listen address for the HTTP surface (default ":8080")
	ListenAddr string `json:"listen_addr"`
	// Data directory for the SQLite database and exports (default "/var/lib/jive")
	DataDir string `json:"data_dir"`

	// Tool surface
	ToolMode      ToolMode `json:"tool_mode"`
	LegacySupport bool     `json:"legacy_support"`

	// Embedding provider; empty BaseURL selects the built-in local embedder.
	Embedding EmbeddingConfig `json:"embedding,omitempty"`

	// OTLP trace endpoint; empty disables tracing.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`

	// MaxResponseBytes caps serialized tool responses before shaping kicks in.
	MaxResponseBytes int `json:"max_response_bytes"`

	// ExportDir overrides the default memory export location.
	ExportDir string `json:"export_dir,omitempty"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		DataDir:          "/var/lib/jive",
		ToolMode:         ToolModeConsolidated,
		LegacySupport:    true,
		MaxResponseBytes: 50000,
		LogLevel:         "info",
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("MCP_JIVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("MCP_JIVE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MCP_JIVE_TOOL_MODE"); v != "" {
		cfg.ToolMode = ToolMode(v)
	}
	if v := os.Getenv("MCP_JIVE_LEGACY_SUPPORT"); v != "" {
		cfg.LegacySupport = v == "true" || v == "1"
	}
	if v := os.Getenv("MCP_JIVE_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("MCP_JIVE_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MCP_JIVE_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MCP_JIVE_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("MCP_JIVE_MAX_RESPONSE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxResponseBytes = n
		}
	}
	if v := os.Getenv("MCP_JIVE_EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if v := os.Getenv("MCP_JIVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if !cfg.ToolMode.Valid() {
		return cfg, fmt.Errorf("unknown tool mode %q", cfg.ToolMode)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// HasRemoteEmbedder reports whether an embedding API is configured.
func (c Config) HasRemoteEmbedder() bool {
	return c.Embedding.BaseURL != ""
}
