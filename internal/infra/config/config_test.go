package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URL != Default().Server.URL {
		t.Fatalf("expected default URL, got %q", cfg.Server.URL)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  url: ws://example.test/ws
  reconnect:
    max_attempts: 9
    initial_delay: 1s
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URL != "ws://example.test/ws" {
		t.Errorf("url not applied: %q", cfg.Server.URL)
	}
	if cfg.Server.Reconnect.MaxAttempts != 9 {
		t.Errorf("max_attempts not applied: %d", cfg.Server.Reconnect.MaxAttempts)
	}
	if cfg.Server.Reconnect.InitialDelay != time.Second {
		t.Errorf("initial_delay not applied: %v", cfg.Server.Reconnect.InitialDelay)
	}
	// Untouched section keeps its default.
	if cfg.Storage.Path != Default().Storage.Path {
		t.Errorf("storage default lost: %q", cfg.Storage.Path)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("logger level not applied: %q", cfg.Logger.Level)
	}
}

func TestValidateRejectsBadTokenizerMode(t *testing.T) {
	cfg := Default()
	cfg.Tokenizer.Mode = "magic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsEmptyURL(t *testing.T) {
	cfg := Default()
	cfg.Server.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
