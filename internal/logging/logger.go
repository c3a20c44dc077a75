// Package logging provides config-driven categorized logging for grove.
// Every subsystem logs through a named category; output is produced by zap.
// Until Initialize or SetLogger is called, all loggers are silent no-ops.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and wiring
	CategoryBus      Category = "bus"      // Engagement bus emit pipeline
	CategoryTriggers Category = "triggers" // Trigger evaluation, reveal queue
	CategoryEntropy  Category = "entropy"  // Entropy detector
	CategoryStage    Category = "stage"    // Stage computation
	CategoryContext  Category = "context"  // Context aggregation
	CategoryRanker   Category = "ranker"   // Prompt filtering and ranking
	CategoryMoments  Category = "moments"  // Moment evaluation
	CategoryStore    Category = "store"    // Persistence backends
	CategoryConfig   Category = "config"   // Configuration loading
	CategoryWatcher  Category = "watcher"  // Rule file hot reload
	CategoryMetrics  Category = "metrics"  // Prometheus instrumentation
	CategoryChat     Category = "chat"     // LLM collaborator
	CategoryTUI      Category = "tui"      // Terminal widget
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string
	Format     string // json or console
	File       string
	Categories map[string]bool
}

// Logger is a categorized printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the process logger from cfg.
func Initialize(cfg Config) error {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(normalizeLevel(cfg.Level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.AddSync(f)
	}

	SetLogger(zap.New(zapcore.NewCore(enc, sink, level)))
	setCategories(cfg.Categories)

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s", cfg.Level, cfg.Format)
	return nil
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "", "info":
		return "info"
	case "warning":
		return "warn"
	default:
		return strings.ToLower(level)
	}
}

// SetLogger replaces the underlying zap logger. Passing nil silences logging.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	base = l
	loggers = make(map[Category]*Logger)
}

func setCategories(cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	categories = cats
	loggers = make(map[Category]*Logger)
}

// IsCategoryEnabled reports whether a category is enabled. Categories absent
// from the config are enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{category: category, sugar: base.Named(string(category)).Sugar()}
	loggers[category] = l
	return l
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// WithFields returns a logger that attaches key-value context to every entry.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{category: l.category, sugar: l.sugar.With(args...)}
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Bus logs to the bus category
func Bus(format string, args ...interface{}) {
	Get(CategoryBus).Info(format, args...)
}

// BusDebug logs debug to the bus category
func BusDebug(format string, args ...interface{}) {
	Get(CategoryBus).Debug(format, args...)
}

// BusWarn logs warning to the bus category
func BusWarn(format string, args ...interface{}) {
	Get(CategoryBus).Warn(format, args...)
}

// TriggersWarn logs warning to the triggers category
func TriggersWarn(format string, args ...interface{}) {
	Get(CategoryTriggers).Warn(format, args...)
}

// EntropyDebug logs debug to the entropy category
func EntropyDebug(format string, args ...interface{}) {
	Get(CategoryEntropy).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// Watcher logs to the watcher category
func Watcher(format string, args ...interface{}) {
	Get(CategoryWatcher).Info(format, args...)
}

// RankerDebug logs debug to the ranker category
func RankerDebug(format string, args ...interface{}) {
	Get(CategoryRanker).Debug(format, args...)
}
