package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GROVE_STORAGE_BACKEND", "GROVE_STORAGE_PATH", "GROVE_STORAGE_DRIVER", "GROVE_LOG_LEVEL",
		"GROVE_CHAT_PROVIDER", "GROVE_CHAT_MODEL", "GEMINI_API_KEY", "GROVE_METRICS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, 50, cfg.Engagement.HistoryLimit)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 3, cfg.Ranking.MaxPrompts)
	assert.Equal(t, 2.0, cfg.Ranking.Weights.StageMatch)
	assert.Equal(t, 0.7, cfg.Entropy.Thresholds.OffTopic)
	assert.Equal(t, "echo", cfg.ChatProvider())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = "grove.db"
	cfg.Ranking.Weights.Variety = 0.25
	cfg.Engagement.StageThresholds.Oriented.MinExchanges = 5
	cfg.Files.Triggers = "rules/triggers.yaml"

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engagement:
  session_timeout: "off"
ranking:
  max_prompts: 1
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), cfg.SessionTimeout())
	assert.Equal(t, 1, cfg.Ranking.MaxPrompts)
	assert.Equal(t, 1.5, cfg.Ranking.Weights.EntropyFit, "untouched nested defaults survive")
	assert.Equal(t, 50, cfg.Engagement.HistoryLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }, "storage.backend"},
		{"file without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"sqlite driver", func(c *Config) { c.Storage.Backend = "sqlite"; c.Storage.Driver = "postgres" }, "storage.driver"},
		{"history limit", func(c *Config) { c.Engagement.HistoryLimit = 0 }, "history_limit"},
		{"session timeout", func(c *Config) { c.Engagement.SessionTimeout = "soon" }, "session_timeout"},
		{"entropy order", func(c *Config) { c.Entropy.Thresholds.Low = 0.9 }, "entropy.thresholds"},
		{"window", func(c *Config) { c.Entropy.Limits.WindowSize = 0 }, "window_size"},
		{"provider", func(c *Config) { c.Chat.Provider = "claude" }, "chat.provider"},
		{"gemini without key", func(c *Config) { c.Chat.Provider = "gemini" }, "GEMINI_API_KEY"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("memory needs no path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage = StorageConfig{Backend: "memory"}
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Generator.CacheTTL = "nonsense"
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL(), "bad durations fall back")
	assert.Equal(t, 60*time.Second, cfg.ChatTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.WatchDebounce())

	cfg.Chat.APIKey = "k"
	assert.Equal(t, "gemini", cfg.ChatProvider())
	cfg.Chat.Provider = "ECHO"
	assert.Equal(t, "echo", cfg.ChatProvider())

	assert.Equal(t, "/abs/x.yaml", Resolve("/root", "/abs/x.yaml"))
	assert.Equal(t, filepath.Join("/root", "rel", "x.yaml"), Resolve("/root", "rel/x.yaml"))
	assert.Equal(t, "", Resolve("/root", ""))

	lc := LoggingConfig{Level: "debug", Categories: map[string]bool{"bus": false}}
	assert.False(t, lc.IsCategoryEnabled("bus"))
	assert.True(t, lc.IsCategoryEnabled("ranker"))
	assert.Equal(t, "debug", lc.ToLogging().Level)
}

// =============================================================================
// WORKSPACE TESTS
// =============================================================================

func TestFindWorkspaceRoot_PrefersGroveDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, WorkspaceDir), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	got, err := FindWorkspaceRoot()
	require.NoError(t, err)
	assert.Equal(t, root, got)
	assert.Equal(t, filepath.Join(root, ".grove", "config.yaml"), DefaultPath(got))
}

func TestFindWorkspaceRoot_FallsBackToGoMod(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n\ngo 1.24\n"), 0o644))
	nested := filepath.Join(root, "subdir")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	got, err := FindWorkspaceRoot()
	require.NoError(t, err)
	assert.Equal(t, root, got)
}
