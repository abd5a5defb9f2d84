// Package logging provides categorized zap loggers for cdpbridge.
// Until Init is called every category logger is a no-op, so library code can
// log unconditionally.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config, shutdown
	CategoryProcess   Category = "process"   // Browser process supervision
	CategoryDiscovery Category = "discovery" // DevTools HTTP endpoint polling
	CategoryCDP       Category = "cdp"       // Command dispatch, frame routing
	CategoryBrowser   Category = "browser"   // Automation operations
	CategoryAudit     Category = "audit"     // Page audits
	CategoryMCP       Category = "mcp"       // Tool server
	CategoryConfig    Category = "config"    // Config reload
)

// Categories lists every category, in declaration order.
var Categories = []Category{
	CategoryBoot, CategoryProcess, CategoryDiscovery, CategoryCDP,
	CategoryBrowser, CategoryAudit, CategoryMCP, CategoryConfig,
}

// Options configures the root logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	// Output is a zap sink path; stderr when empty. stdout is reserved for the
	// stdio tool server.
	Output string
	// Enabled reports whether a category should log. Nil enables all.
	Enabled func(category string) bool
}

// Logger is a category logger with printf-style methods.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	loggers = make(map[Category]*Logger)
	muted   = make(map[Category]bool)
)

// ParseLevel maps a level name to a zap level. Unknown names map to info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init builds the root logger. It may be called again to reconfigure.
func Init(opts Options) error {
	var cfg zap.Config
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	level.SetLevel(ParseLevel(opts.Level))
	cfg.Level = level
	out := opts.Output
	if out == "" || out == "stdout" {
		out = "stderr"
	}
	cfg.OutputPaths = []string{out}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	Use(l)
	mu.Lock()
	if opts.Enabled != nil {
		for _, c := range Categories {
			if !opts.Enabled(string(c)) {
				muted[c] = true
			}
		}
	}
	mu.Unlock()
	return nil
}

// Use installs l as the root logger. Tests pass zaptest or observer loggers.
func Use(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*Logger)
	muted = make(map[Category]bool)
}

// SetLevel changes the level of the logger built by Init.
func SetLevel(name string) {
	level.SetLevel(ParseLevel(name))
}

// Level returns the current level of the logger built by Init.
func Level() zapcore.Level {
	return level.Level()
}

// Root returns the underlying zap logger.
func Root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Get returns (or creates) a logger for the given category.
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
	base := root
	if muted[category] {
		base = zap.NewNop()
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Sync flushes buffered entries.
func Sync() {
	_ = Root().Sync()
}

// With returns a child logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Fatal writes a message to stderr even when no logger is configured.
func Fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	Get(CategoryBoot).Error(format, args...)
}
