package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	globalConfigDir = ".codewatch"
	configFileName  = "config.yaml"
)

// Loader handles loading and merging configuration files
type Loader struct {
	globalPath string
}

// NewLoader creates a new configuration loader
func NewLoader() (*Loader, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	return &Loader{
		globalPath: filepath.Join(homeDir, globalConfigDir, configFileName),
	}, nil
}

// Load loads the global configuration merged over defaults. A missing
// config file yields the defaults unchanged.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file merged over
// defaults.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	fileCfg, err := l.loadFile(path)
	if err != nil {
		return nil, err
	}
	return mergeConfigs(DefaultConfig(), fileCfg), nil
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// GlobalConfigPath returns the path to the global config file
func (l *Loader) GlobalConfigPath() string {
	return l.globalPath
}

// mergeConfigs merges two configurations, with override taking precedence
func mergeConfigs(base, override *Config) *Config {
	result := &Config{
		Version: coalesce(override.Version, base.Version),
		Settings: Settings{
			LogLevel: coalesce(override.Settings.LogLevel, base.Settings.LogLevel),
			LogFile:  coalesce(override.Settings.LogFile, base.Settings.LogFile),
		},
		Watch: WatchSettings{
			Root:         coalesce(override.Watch.Root, base.Watch.Root),
			IgnoreParts:  base.Watch.IgnoreParts,
			MaxFileBytes: base.Watch.MaxFileBytes,
		},
		Store: StoreSettings{
			Path: coalesce(override.Store.Path, base.Store.Path),
		},
		Server: base.Server,
		Digest: base.Digest,
		Match:  base.Match,
		LLM:    base.LLM,
	}

	if len(override.Watch.IgnoreParts) > 0 {
		result.Watch.IgnoreParts = override.Watch.IgnoreParts
	}
	if override.Watch.MaxFileBytes != 0 {
		result.Watch.MaxFileBytes = override.Watch.MaxFileBytes
	}

	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}
	if override.Server.CORSEnabled {
		result.Server.CORSEnabled = true
		result.Server.CORSOrigins = override.Server.CORSOrigins
	}
	if override.Server.HeartbeatSeconds != 0 {
		result.Server.HeartbeatSeconds = override.Server.HeartbeatSeconds
	}
	if override.Server.PublishTimeoutMS != 0 {
		result.Server.PublishTimeoutMS = override.Server.PublishTimeoutMS
	}
	if override.Server.SubscriberBuffer != 0 {
		result.Server.SubscriberBuffer = override.Server.SubscriberBuffer
	}

	if override.Digest.EventLimit != 0 {
		result.Digest.EventLimit = override.Digest.EventLimit
	}
	if override.Digest.CharLimit != 0 {
		result.Digest.CharLimit = override.Digest.CharLimit
	}

	if override.Match.WindowSeconds != 0 {
		result.Match.WindowSeconds = override.Match.WindowSeconds
	}
	if override.Match.MinConfidence != 0 {
		result.Match.MinConfidence = override.Match.MinConfidence
	}
	if override.Match.CandidateLimit != 0 {
		result.Match.CandidateLimit = override.Match.CandidateLimit
	}

	result.LLM = LLMSettings{
		Provider:       coalesce(override.LLM.Provider, base.LLM.Provider),
		Model:          coalesce(override.LLM.Model, base.LLM.Model),
		MatchModel:     coalesce(override.LLM.MatchModel, base.LLM.MatchModel),
		APIKey:         coalesce(override.LLM.APIKey, base.LLM.APIKey),
		BaseURL:        coalesce(override.LLM.BaseURL, base.LLM.BaseURL),
		MaxTokens:      base.LLM.MaxTokens,
		TimeoutSeconds: base.LLM.TimeoutSeconds,
	}
	if override.LLM.MaxTokens != 0 {
		result.LLM.MaxTokens = override.LLM.MaxTokens
	}
	if override.LLM.TimeoutSeconds != 0 {
		result.LLM.TimeoutSeconds = override.LLM.TimeoutSeconds
	}

	return result
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
