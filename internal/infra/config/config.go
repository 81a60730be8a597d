// Package config loads the application configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chat      ChatConfig      `yaml:"chat"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Storage   StorageConfig   `yaml:"storage"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ServerConfig holds the backend endpoint and reconnect policy.
type ServerConfig struct {
	URL       string          `yaml:"url"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	// RatePerSec bounds outbound commands; 0 disables throttling.
	RatePerSec float64 `yaml:"rate_per_sec"`
	RateBurst  int     `yaml:"rate_burst"`
}

// ReconnectConfig bounds automatic reconnection.
type ReconnectConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ChatConfig holds generation defaults.
type ChatConfig struct {
	Streaming bool `yaml:"streaming"`
}

// TokenizerConfig selects the token counter.
type TokenizerConfig struct {
	// Mode is "heuristic" (default) or "tiktoken".
	Mode     string `yaml:"mode"`
	Encoding string `yaml:"encoding"` // tiktoken encoding name
}

// StorageConfig holds the snapshot database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			URL: "ws://127.0.0.1:8765/ws",
			Reconnect: ReconnectConfig{
				MaxAttempts:  5,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     15 * time.Second,
			},
			RatePerSec: 4,
			RateBurst:  8,
		},
		Chat:      ChatConfig{Streaming: true},
		Tokenizer: TokenizerConfig{Mode: "heuristic", Encoding: "cl100k_base"},
		Storage:   StorageConfig{Path: "astrachat.db"},
		Logger:    LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer:    TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load reads the YAML config at path, layered over defaults.
// A missing file returns defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url must be set")
	}
	if c.Server.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("server.reconnect.max_attempts must be >= 0")
	}
	switch c.Tokenizer.Mode {
	case "", "heuristic", "tiktoken":
	default:
		return fmt.Errorf("tokenizer.mode must be heuristic or tiktoken, got %q", c.Tokenizer.Mode)
	}
	return nil
}
