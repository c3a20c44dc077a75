package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"grove/internal/contextfields"
	"grove/internal/engagement"
	"grove/internal/entropy"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all grove configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Engagement EngagementConfig `yaml:"engagement"`
	Entropy    EntropyConfig    `yaml:"entropy"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Generator  GeneratorConfig  `yaml:"generator"`

	// Rule files, relative to the workspace root unless absolute.
	Files FilesConfig `yaml:"files"`

	Chat    ChatConfig    `yaml:"chat"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Watch   WatchConfig   `yaml:"watch"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file, sqlite
	Path    string `yaml:"path"`
	Driver  string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
}

// EngagementConfig tunes the engagement bus.
type EngagementConfig struct {
	HistoryLimit int `yaml:"history_limit"`
	// SessionTimeout is a duration, or "off" to never roll sessions.
	SessionTimeout   string                      `yaml:"session_timeout"`
	StageThresholds  engagement.StageThresholds  `yaml:"stage_thresholds"`
	MomentThresholds engagement.MomentThresholds `yaml:"moment_thresholds"`
}

// EntropyConfig tunes the entropy detector.
type EntropyConfig struct {
	Thresholds entropy.Thresholds `yaml:"thresholds"`
	Limits     entropy.Limits     `yaml:"limits"`
}

// RankingConfig tunes prompt selection.
type RankingConfig struct {
	Weights    contextfields.Weights `yaml:"weights"`
	MaxPrompts int                   `yaml:"max_prompts"`
	MinScore   float64               `yaml:"min_score"`
}

// GeneratorConfig tunes the prompt generator.
type GeneratorConfig struct {
	CacheTTL string `yaml:"cache_ttl"`
}

// FilesConfig points at admin-editable rule files. Empty paths use the
// built-in defaults.
type FilesConfig struct {
	Triggers   string `yaml:"triggers"`
	Thresholds string `yaml:"thresholds"`
	Prompts    string `yaml:"prompts"`
	Moments    string `yaml:"moments"`
	Narrative  string `yaml:"narrative"`
}

// ChatConfig configures the LLM collaborator.
type ChatConfig struct {
	Provider string `yaml:"provider"` // echo, gemini; empty picks gemini when a key is set
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// WatchConfig configures rule-file hot reload.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "file",
			Path:    ".grove/state",
			Driver:  "sqlite",
		},

		Engagement: EngagementConfig{
			HistoryLimit:     50,
			SessionTimeout:   "30m",
			StageThresholds:  engagement.DefaultStageThresholds(),
			MomentThresholds: engagement.DefaultMomentThresholds(),
		},

		Entropy: EntropyConfig{
			Thresholds: entropy.DefaultThresholds(),
			Limits:     entropy.DefaultLimits(),
		},

		Ranking: RankingConfig{
			Weights:    contextfields.DefaultWeights(),
			MaxPrompts: contextfields.DefaultMaxPrompts,
		},

		Generator: GeneratorConfig{CacheTTL: "10m"},

		Chat: ChatConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "60s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Metrics: MetricsConfig{Addr: ":9464"},

		Watch: WatchConfig{Enabled: true, Debounce: "250ms"},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// envOverrides are the environment variables that win over the file.
type envOverrides struct {
	StorageBackend string `env:"GROVE_STORAGE_BACKEND"`
	StoragePath    string `env:"GROVE_STORAGE_PATH"`
	StorageDriver  string `env:"GROVE_STORAGE_DRIVER"`
	LogLevel       string `env:"GROVE_LOG_LEVEL"`
	ChatProvider   string `env:"GROVE_CHAT_PROVIDER"`
	ChatModel      string `env:"GROVE_CHAT_MODEL"`
	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	MetricsAddr    string `env:"GROVE_METRICS_ADDR"`
}

// applyEnvOverrides applies environment variable overrides. Empty variables
// are ignored.
func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Storage.Backend, o.StorageBackend)
	set(&c.Storage.Path, o.StoragePath)
	set(&c.Storage.Driver, o.StorageDriver)
	set(&c.Logging.Level, o.LogLevel)
	set(&c.Chat.Provider, o.ChatProvider)
	set(&c.Chat.Model, o.ChatModel)
	set(&c.Chat.APIKey, o.GeminiAPIKey)
	set(&c.Metrics.Addr, o.MetricsAddr)
	return nil
}

// =============================================================================
// Derived values
// =============================================================================

// SessionTimeout returns the idle timeout, or -1 when disabled.
func (c *Config) SessionTimeout() time.Duration {
	if strings.EqualFold(c.Engagement.SessionTimeout, "off") {
		return -1
	}
	return parseDuration(c.Engagement.SessionTimeout, 30*time.Minute)
}

// CacheTTL returns the generator cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Generator.CacheTTL, 10*time.Minute)
}

// ChatTimeout returns the per-request LLM timeout.
func (c *Config) ChatTimeout() time.Duration {
	return parseDuration(c.Chat.Timeout, 60*time.Second)
}

// WatchDebounce returns the file watcher debounce interval.
func (c *Config) WatchDebounce() time.Duration {
	return parseDuration(c.Watch.Debounce, 250*time.Millisecond)
}

// ChatProvider resolves an empty provider: gemini when a key is configured,
// echo otherwise.
func (c *Config) ChatProvider() string {
	if c.Chat.Provider != "" {
		return strings.ToLower(c.Chat.Provider)
	}
	if c.Chat.APIKey != "" {
		return "gemini"
	}
	return "echo"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Resolve returns path anchored at root unless it is empty or absolute.
func Resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// =============================================================================
// Validation
// =============================================================================

var (
	validBackends  = []string{"memory", "file", "sqlite"}
	validDrivers   = []string{"sqlite3", "sqlite"}
	validProviders = []string{"", "echo", "gemini"}
	validLevels    = []string{"debug", "info", "warn", "error"}
)

// Validate checks the configuration. Every problem is reported; the result
// wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(validBackends, strings.ToLower(c.Storage.Backend)) {
		errs = append(errs, fmt.Errorf("storage.backend %q (valid: %v)", c.Storage.Backend, validBackends))
	}
	if !strings.EqualFold(c.Storage.Backend, "memory") && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required for persistent backends"))
	}
	if strings.EqualFold(c.Storage.Backend, "sqlite") && !slices.Contains(validDrivers, c.Storage.Driver) {
		errs = append(errs, fmt.Errorf("storage.driver %q (valid: %v)", c.Storage.Driver, validDrivers))
	}

	if c.Engagement.HistoryLimit <= 0 {
		errs = append(errs, errors.New("engagement.history_limit must be positive"))
	}
	type namedDuration struct{ name, value string }
	durations := []namedDuration{
		{"generator.cache_ttl", c.Generator.CacheTTL},
		{"chat.timeout", c.Chat.Timeout},
		{"watch.debounce", c.Watch.Debounce},
	}
	if !strings.EqualFold(c.Engagement.SessionTimeout, "off") {
		durations = append(durations, namedDuration{"engagement.session_timeout", c.Engagement.SessionTimeout})
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}

	th := c.Entropy.Thresholds
	if th.Low < 0 || th.OffTopic > 1 || th.Low > th.OffTopic {
		errs = append(errs, fmt.Errorf("entropy.thresholds must satisfy 0 <= low <= off_topic <= 1 (got %.2f, %.2f)", th.Low, th.OffTopic))
	}
	if th.Inject < 0 || th.Inject > 1 {
		errs = append(errs, fmt.Errorf("entropy.thresholds.inject %.2f outside [0,1]", th.Inject))
	}
	if c.Entropy.Limits.WindowSize <= 0 {
		errs = append(errs, errors.New("entropy.limits.window_size must be positive"))
	}

	if c.Ranking.MaxPrompts < 0 {
		errs = append(errs, errors.New("ranking.max_prompts must not be negative"))
	}
	if !slices.Contains(validProviders, strings.ToLower(c.Chat.Provider)) {
		errs = append(errs, fmt.Errorf("chat.provider %q (valid: echo, gemini)", c.Chat.Provider))
	}
	if c.ChatProvider() == "gemini" && c.Chat.APIKey == "" {
		errs = append(errs, errors.New("chat.provider gemini needs an API key (set GEMINI_API_KEY)"))
	}
	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Errorf("logging.level %q (valid: %v)", c.Logging.Level, validLevels))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// =============================================================================
// Workspace
// =============================================================================

// WorkspaceDir is the per-workspace directory holding config and state.
const WorkspaceDir = ".grove"

// FindWorkspaceRoot walks up from the working directory to the first
// directory holding .grove or go.mod. It falls back to the working directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, WorkspaceDir)); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return originalDir, nil
}

// DefaultPath returns the config file location for a workspace root.
func DefaultPath(root string) string {
	return filepath.Join(root, WorkspaceDir, "config.yaml")
}
