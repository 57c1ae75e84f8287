package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 4381 {
		t.Errorf("Expected default port 4381, got %d", cfg.Server.Port)
	}
	if cfg.Watch.MaxFileBytes != 2_000_000 {
		t.Errorf("Expected default max file bytes 2000000, got %d", cfg.Watch.MaxFileBytes)
	}
	if cfg.Match.MinConfidence != 0.6 {
		t.Errorf("Expected default min confidence 0.6, got %f", cfg.Match.MinConfidence)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("Expected default provider openai, got %s", cfg.LLM.Provider)
	}

	found := false
	for _, part := range cfg.Watch.IgnoreParts {
		if part == ".git" {
			found = true
		}
	}
	if !found {
		t.Error("Expected .git in default ignore parts")
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 4381 {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Settings.LogLevel != "info" {
		t.Errorf("Expected default log level, got %s", cfg.Settings.LogLevel)
	}
}

func TestLoadMergesGlobalConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".codewatch")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	content := `settings:
  log_level: debug
watch:
  ignore_parts:
    - dist
server:
  port: 9000
llm:
  provider: anthropic
  api_key: test-key
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Settings.LogLevel != "debug" {
		t.Errorf("Expected overridden log level debug, got %s", cfg.Settings.LogLevel)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected overridden port 9000, got %d", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.APIKey != "test-key" {
		t.Errorf("Expected overridden llm settings, got %+v", cfg.LLM)
	}
	if len(cfg.Watch.IgnoreParts) != 1 || cfg.Watch.IgnoreParts[0] != "dist" {
		t.Errorf("Expected ignore parts replaced, got %v", cfg.Watch.IgnoreParts)
	}

	// untouched sections keep their defaults
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("Expected default model preserved, got %s", cfg.LLM.Model)
	}
	if cfg.Digest.CharLimit != 6000 {
		t.Errorf("Expected default digest char limit, got %d", cfg.Digest.CharLimit)
	}
	if cfg.Match.WindowSeconds != 7200 {
		t.Errorf("Expected default match window, got %d", cfg.Match.WindowSeconds)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := `match:
  window_seconds: 600
  min_confidence: 0.8
digest:
  event_limit: 10
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	cfg, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Match.WindowSeconds != 600 {
		t.Errorf("Expected window 600, got %d", cfg.Match.WindowSeconds)
	}
	if cfg.Match.MinConfidence != 0.8 {
		t.Errorf("Expected min confidence 0.8, got %f", cfg.Match.MinConfidence)
	}
	if cfg.Digest.EventLimit != 10 {
		t.Errorf("Expected event limit 10, got %d", cfg.Digest.EventLimit)
	}
	if cfg.Server.Port != 4381 {
		t.Errorf("Expected default port preserved, got %d", cfg.Server.Port)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	if _, err := loader.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".codewatch")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("{{not yaml"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	if _, err := loader.Load(); err == nil {
		t.Error("Expected error for malformed config")
	}
}
