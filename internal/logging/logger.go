// Package logging provides config-driven categorized logging for gamepilot.
// Every subsystem logs through a named category; categories share one zap
// root logger configured from the logging section of the config file.
// Until Initialize is called every logger is a no-op.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and wiring
	CategoryConfig     Category = "config"     // Config load and hot reload
	CategorySession    Category = "session"    // Per-game session lifecycle
	CategoryController Category = "controller" // Event controller state machine
	CategoryScheduler  Category = "scheduler"  // Background task scheduler
	CategoryInference  Category = "inference"  // Parallel inference fan-out
	CategoryCost       Category = "cost"       // Complexity and budget decisions
	CategoryContext    Category = "context"    // Context window and summarization
	CategoryGeneration Category = "generation" // Generational staleness tracking
	CategoryAPI        Category = "api"        // LLM provider calls
	CategoryJournal    Category = "journal"    // Decision journal
)

// AllCategories lists every category in declaration order.
var AllCategories = []Category{
	CategoryBoot, CategoryConfig, CategorySession, CategoryController,
	CategoryScheduler, CategoryInference, CategoryCost, CategoryContext,
	CategoryGeneration, CategoryAPI, CategoryJournal,
}

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	Categories map[string]bool // nil enables everything
}

// Logger writes printf-style messages for one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	root       = zap.NewNop()
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the root zap logger from opts.
// Call once at startup; calling again replaces the root logger.
func Initialize(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	var cfg zap.Config
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	level.SetLevel(lvl)
	cfg.Level = level

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	Use(built, opts.Categories)
	Get(CategoryBoot).Info("logging initialized (level=%s format=%s)", lvl, cfg.Encoding)
	return nil
}

// Use installs an existing zap logger as the root. Tests use this with
// zaptest/observer cores.
func Use(base *zap.Logger, enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()

	if base == nil {
		base = zap.NewNop()
	}
	root = base
	categories = enabled
	loggers = make(map[Category]*Logger)
}

// ParseLevel maps a config string to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLevel changes the level of the root logger built by Initialize.
// Used by config hot reload.
func SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

func categoryEnabledLocked(category Category) bool {
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
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

	l := &Logger{category: category}
	if categoryEnabledLocked(category) {
		l.sugar = root.Named(string(category)).With(zap.String("category", string(category))).Sugar()
	}
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	r := root
	mu.RUnlock()
	_ = r.Sync()
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Config logs to the config category
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Info(format, args...)
}

// ConfigWarn logs a warning to the config category
func ConfigWarn(format string, args ...interface{}) {
	Get(CategoryConfig).Warn(format, args...)
}

// Session logs to the session category
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs debug to the session category
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

// SessionWarn logs a warning to the session category
func SessionWarn(format string, args ...interface{}) {
	Get(CategorySession).Warn(format, args...)
}

// Controller logs to the controller category
func Controller(format string, args ...interface{}) {
	Get(CategoryController).Info(format, args...)
}

// ControllerDebug logs debug to the controller category
func ControllerDebug(format string, args ...interface{}) {
	Get(CategoryController).Debug(format, args...)
}

// ControllerWarn logs a warning to the controller category
func ControllerWarn(format string, args ...interface{}) {
	Get(CategoryController).Warn(format, args...)
}

// ControllerError logs an error to the controller category
func ControllerError(format string, args ...interface{}) {
	Get(CategoryController).Error(format, args...)
}

// Scheduler logs to the scheduler category
func Scheduler(format string, args ...interface{}) {
	Get(CategoryScheduler).Info(format, args...)
}

// SchedulerDebug logs debug to the scheduler category
func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debug(format, args...)
}

// SchedulerWarn logs a warning to the scheduler category
func SchedulerWarn(format string, args ...interface{}) {
	Get(CategoryScheduler).Warn(format, args...)
}

// Inference logs to the inference category
func Inference(format string, args ...interface{}) {
	Get(CategoryInference).Info(format, args...)
}

// InferenceDebug logs debug to the inference category
func InferenceDebug(format string, args ...interface{}) {
	Get(CategoryInference).Debug(format, args...)
}

// InferenceWarn logs a warning to the inference category
func InferenceWarn(format string, args ...interface{}) {
	Get(CategoryInference).Warn(format, args...)
}

// Cost logs to the cost category
func Cost(format string, args ...interface{}) {
	Get(CategoryCost).Info(format, args...)
}

// CostDebug logs debug to the cost category
func CostDebug(format string, args ...interface{}) {
	Get(CategoryCost).Debug(format, args...)
}

// CostWarn logs a warning to the cost category
func CostWarn(format string, args ...interface{}) {
	Get(CategoryCost).Warn(format, args...)
}

// Context logs to the context category
func Context(format string, args ...interface{}) {
	Get(CategoryContext).Info(format, args...)
}

// ContextDebug logs debug to the context category
func ContextDebug(format string, args ...interface{}) {
	Get(CategoryContext).Debug(format, args...)
}

// ContextWarn logs a warning to the context category
func ContextWarn(format string, args ...interface{}) {
	Get(CategoryContext).Warn(format, args...)
}

// Generation logs to the generation category
func Generation(format string, args ...interface{}) {
	Get(CategoryGeneration).Info(format, args...)
}

// GenerationDebug logs debug to the generation category
func GenerationDebug(format string, args ...interface{}) {
	Get(CategoryGeneration).Debug(format, args...)
}

// API logs to the api category
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}

// APIError logs an error to the api category
func APIError(format string, args ...interface{}) {
	Get(CategoryAPI).Error(format, args...)
}

// Journal logs to the journal category
func Journal(format string, args ...interface{}) {
	Get(CategoryJournal).Info(format, args...)
}

// JournalWarn logs a warning to the journal category
func JournalWarn(format string, args ...interface{}) {
	Get(CategoryJournal).Warn(format, args...)
}
