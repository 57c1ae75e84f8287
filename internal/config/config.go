package config

// Config represents the complete codewatch configuration
type Config struct {
	Version  string         `yaml:"version"`
	Settings Settings       `yaml:"settings"`
	Watch    WatchSettings  `yaml:"watch"`
	Store    StoreSettings  `yaml:"store"`
	Server   ServerSettings `yaml:"server"`
	Digest   DigestSettings `yaml:"digest"`
	Match    MatchSettings  `yaml:"match"`
	LLM      LLMSettings    `yaml:"llm"`
}

// Settings contains global configuration settings
type Settings struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
}

// WatchSettings configures the filesystem change tracker
type WatchSettings struct {
	// Root is the repository directory to watch. Defaults to the
	// working directory.
	Root string `yaml:"root,omitempty"`

	// IgnoreParts lists path components that disqualify a path.
	// Matching is exact per component, not substring.
	IgnoreParts []string `yaml:"ignore_parts,omitempty"`

	// MaxFileBytes is the ceiling above which file content is treated
	// as empty rather than read.
	MaxFileBytes int64 `yaml:"max_file_bytes,omitempty"`
}

// StoreSettings configures event persistence
type StoreSettings struct {
	Path string `yaml:"path,omitempty"`
}

// ServerSettings configures the HTTP API server
type ServerSettings struct {
	Port             int      `yaml:"port,omitempty"`
	CORSEnabled      bool     `yaml:"cors_enabled,omitempty"`
	CORSOrigins      []string `yaml:"cors_origins,omitempty"`
	HeartbeatSeconds int      `yaml:"heartbeat_seconds,omitempty"`
	PublishTimeoutMS int      `yaml:"publish_timeout_ms,omitempty"`
	SubscriberBuffer int      `yaml:"subscriber_buffer,omitempty"`
}

// DigestSettings bounds the event digest fed to summarization
type DigestSettings struct {
	EventLimit int `yaml:"event_limit,omitempty"`
	CharLimit  int `yaml:"char_limit,omitempty"`
}

// MatchSettings configures conversation-to-change matching.
// The window and threshold mirror the values the matching prompt was
// tuned with; both stay configurable.
type MatchSettings struct {
	WindowSeconds  int     `yaml:"window_seconds,omitempty"`
	MinConfidence  float64 `yaml:"min_confidence,omitempty"`
	CandidateLimit int     `yaml:"candidate_limit,omitempty"`
}

// LLMSettings configures the LLM provider used for summaries and
// conversation matching
type LLMSettings struct {
	// Provider selects the backend: "openai" or "anthropic".
	Provider string `yaml:"provider,omitempty"`

	// Model is used for summaries and change analysis.
	Model string `yaml:"model,omitempty"`

	// MatchModel is used for conversation matching judgments.
	MatchModel string `yaml:"match_model,omitempty"`

	// APIKey falls back to OPENAI_API_KEY / ANTHROPIC_API_KEY.
	APIKey string `yaml:"api_key,omitempty"`

	BaseURL        string `yaml:"base_url,omitempty"`
	MaxTokens      int    `yaml:"max_tokens,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// DefaultIgnoreParts are path components never worth recording.
var DefaultIgnoreParts = []string{
	".git", ".codewatch", "node_modules", ".venv", ".idea", ".vscode", "__pycache__",
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Settings: Settings{
			LogLevel: "info",
		},
		Watch: WatchSettings{
			IgnoreParts:  DefaultIgnoreParts,
			MaxFileBytes: 2_000_000,
		},
		Server: ServerSettings{
			Port:             4381,
			HeartbeatSeconds: 30,
			PublishTimeoutMS: 1000,
			SubscriberBuffer: 100,
		},
		Digest: DigestSettings{
			EventLimit: 50,
			CharLimit:  6000,
		},
		Match: MatchSettings{
			WindowSeconds:  7200,
			MinConfidence:  0.6,
			CandidateLimit: 50,
		},
		LLM: LLMSettings{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			MatchModel:     "gpt-4o",
			MaxTokens:      1024,
			TimeoutSeconds: 60,
		},
	}
}
