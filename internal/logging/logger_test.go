package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	SetLogger(zap.New(core))
	setCategories(nil)
	t.Cleanup(func() { SetLogger(nil) })
	return logs
}

func TestGetNamesEntriesByCategory(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	Get(CategoryBus).Warn("persist failed: %s", "quota")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "bus", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "persist failed: quota", entries[0].Message)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)
	setCategories(map[string]bool{"entropy": false, "bus": true})

	Get(CategoryEntropy).Info("hidden")
	Get(CategoryBus).Info("shown")
	Get(CategoryRanker).Info("unlisted categories are enabled")

	assert.Equal(t, 2, logs.Len())
	assert.False(t, IsCategoryEnabled(CategoryEntropy))
	assert.True(t, IsCategoryEnabled(CategoryRanker))
}

func TestNoopBeforeInitialize(t *testing.T) {
	SetLogger(nil)
	// Must not panic and must not write anywhere.
	Get(CategoryStore).Error("nothing happens")
	StoreWarn("still nothing")
}

func TestWithFields(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel)

	Get(CategoryTriggers).WithFields(map[string]interface{}{"trigger": "simulation-reveal"}).Info("evaluated")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "simulation-reveal", entries[0].ContextMap()["trigger"])
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	timer := StartTimer(CategoryRanker, "rank")
	time.Sleep(2 * time.Millisecond)
	timer.StopWithThreshold(time.Nanosecond)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.True(t, strings.HasPrefix(logs.All()[0].Message, "rank took"))
}

func TestInitializeWritesFile(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil); setCategories(nil) })
	path := filepath.Join(t.TempDir(), "grove.log")

	require.NoError(t, Initialize(Config{Level: "debug", Format: "json", File: path}))
	Boot("engine ready")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engine ready")
	assert.Contains(t, string(data), `"logger":"boot"`)
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	err := Initialize(Config{Level: "loud"})
	assert.Error(t, err)
}
