// Package config loads crewHQ configuration from YAML with defaults and
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all crewHQ configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Server configures the inbound command API.
	Server ServerConfig `yaml:"server"`

	// Reasoner configures the external reasoning collaborator.
	Reasoner ReasonerConfig `yaml:"reasoner"`

	// Decision configures the three-tier decision engine.
	Decision DecisionConfig `yaml:"decision"`

	// Gate configures the permission gate feature table.
	Gate GateConfig `yaml:"gate"`

	// Account configures the external account service client.
	Account AccountConfig `yaml:"account"`

	// Store configures local persistence.
	Store StoreConfig `yaml:"store"`

	// Crew configures crew execution policy.
	Crew CrewConfig `yaml:"crew"`

	// Sentience configures the sentience layer.
	Sentience SentienceConfig `yaml:"sentience"`

	// Logging configures zap output.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP command API.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	RequestTimeout  string `yaml:"request_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ReasonerConfig configures the Gemini-backed reasoner.
type ReasonerConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// DecisionConfig configures the decision engine tiers.
type DecisionConfig struct {
	TransitionTablePath string `yaml:"transition_table_path"`
	RulesDir            string `yaml:"rules_dir"`
	WatchRules          bool   `yaml:"watch_rules"`
	CacheTTL            string `yaml:"cache_ttl"`
	CacheMaxEntries     int    `yaml:"cache_max_entries"`
	Tier3Timeout        string `yaml:"tier3_timeout"`
}

// GateConfig configures the permission gate.
type GateConfig struct {
	FeatureTablePath string `yaml:"feature_table_path"`
}

// AccountConfig configures the external account service.
type AccountConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	// MaxTurns bounds per-conversation history; oldest turns evicted first.
	MaxTurns int `yaml:"max_turns"`
}

// CrewConfig configures crew step execution.
type CrewConfig struct {
	MaxRetries       int    `yaml:"max_retries"`
	RetryBackoffBase string `yaml:"retry_backoff_base"`
	StepTimeout      string `yaml:"step_timeout"`
	// WorkerLimit bounds concurrency for independent step groups.
	WorkerLimit int `yaml:"worker_limit"`
	// BackgroundThreshold: campaigns over this many leads are handed to a
	// background task and acknowledged immediately.
	BackgroundThreshold int `yaml:"background_threshold"`
}

// SentienceConfig configures tone adaptation and self-review.
type SentienceConfig struct {
	SelfReview        bool   `yaml:"self_review"`
	SelfReviewTimeout string `yaml:"self_review_timeout"`
	// EMAAlpha is the smoothing factor for the success-rate moving average.
	EMAAlpha float64 `yaml:"ema_alpha"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "crewHQ",
		Version: "0.3.0",

		Server: ServerConfig{
			Addr:            ":8090",
			RequestTimeout:  "60s",
			ShutdownTimeout: "10s",
		},

		Reasoner: ReasonerConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "20s",
		},

		Decision: DecisionConfig{
			TransitionTablePath: "rules/transitions.yaml",
			RulesDir:            "rules",
			WatchRules:          false,
			CacheTTL:            "10m",
			CacheMaxEntries:     2048,
			Tier3Timeout:        "15s",
		},

		Gate: GateConfig{
			FeatureTablePath: "rules/features.yaml",
		},

		Account: AccountConfig{
			BaseURL: "http://localhost:8091",
			Timeout: "5s",
		},

		Store: StoreConfig{
			DatabasePath: "data/crewhq.db",
			MaxTurns:     50,
		},

		Crew: CrewConfig{
			MaxRetries:          3,
			RetryBackoffBase:    "500ms",
			StepTimeout:         "30s",
			WorkerLimit:         4,
			BackgroundThreshold: 25,
		},

		Sentience: SentienceConfig{
			SelfReview:        true,
			SelfReviewTimeout: "8s",
			EMAAlpha:          0.2,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults if
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets deployment environments override file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CREWHQ_API_KEY"); v != "" {
		c.Reasoner.APIKey = v
	}
	if v := os.Getenv("CREWHQ_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CREWHQ_DB"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("CREWHQ_ACCOUNT_URL"); v != "" {
		c.Account.BaseURL = v
	}
	if v := os.Getenv("CREWHQ_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Duration parses a duration string from config, returning fallback on
// empty or malformed input. The shortest timeout in a call chain wins,
// so components should apply these at the outermost scope they own.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
