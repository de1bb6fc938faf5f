package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

// Logger is satisfied by *slog.Logger. Packages that only log take it so
// tests can pass a discard logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool
	mutex           sync.RWMutex
	logBuffer       *RingBuffer
	logCallback     LogCallback
)

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`

	// BufferSize is the number of entries kept for the history endpoint.
	BufferSize int `toml:"buffer_size"`

	// Output overrides stdout. Nil means stdout when it is usable.
	Output io.Writer `toml:"-"`
}

// Initialize sets up the logging system. It may be called again; existing
// module loggers are rebuilt for the new format and levels. The ring buffer
// survives re-initialization unless its size changes, so entry sequence
// numbers keep increasing.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true

	size := config.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	if logBuffer == nil || logBuffer.Capacity() != size {
		logBuffer = NewRingBuffer(size)
	}

	globalLevelVar.Set(levelFor(config, ""))
	for module, levelVar := range moduleLevelVars {
		levelVar.Set(levelFor(config, module))
		moduleLoggers[module] = newModuleLogger(module, levelVar)
	}

	slog.SetDefault(slog.New(createHandler(config, globalLevelVar)))
}

// SetLevels re-applies global and per-module levels without rebuilding
// handlers. Modules missing from config fall back to the global level.
func SetLevels(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalLevelVar.Set(levelFor(config, ""))
	for module, levelVar := range moduleLevelVars {
		levelVar.Set(levelFor(config, module))
	}

	globalConfig.Level = config.Level
	globalConfig.Modules = config.Modules
}

// Level returns the effective level of a module logger.
func Level(module string) slog.Level {
	mutex.RLock()
	defer mutex.RUnlock()
	if lv, ok := moduleLevelVars[module]; ok {
		return lv.Level()
	}
	return globalLevelVar.Level()
}

// GetBuffer returns the log history buffer, or nil before Initialize.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer
}

// SetLogCallback registers fn to receive every buffered entry after its
// sequence number is assigned. Pass nil to remove it.
func SetLogCallback(fn LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = fn
}

// GetLogger returns the logger for module, creating it on first use.
// Loggers created before Initialize start at info and pick up the
// configured level when Initialize runs.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := moduleLoggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	if isInitialized {
		levelVar.Set(levelFor(globalConfig, module))
	}
	logger = newModuleLogger(module, levelVar)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// newModuleLogger builds a logger tagged with module. Caller holds mutex.
func newModuleLogger(module string, level slog.Leveler) *slog.Logger {
	config := globalConfig
	if !isInitialized {
		config = Config{Format: "text"}
	}
	return slog.New(createHandler(config, level)).With("module", module)
}

// levelFor resolves the level of module under config: the module override
// when it parses, else the global level, else info. An empty module
// resolves the global level.
func levelFor(config Config, module string) slog.Level {
	if module != "" {
		if l := parseLevel(config.Modules[module]); l != nil {
			return *l
		}
	}
	if l := parseLevel(config.Level); l != nil {
		return *l
	}
	return slog.LevelInfo
}

// createHandler fans records out to stdout (or config.Output), the journal
// when it is reachable, and the ring buffer.
func createHandler(config Config, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	out := config.Output
	if out == nil && isStdoutAvailable() {
		out = os.Stdout
	}

	var handlers []slog.Handler
	if out != nil {
		if config.Format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}
	if config.Output == nil && IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable reports whether stdout goes somewhere: a terminal, pipe,
// socket or regular file. /dev/null is a device and does not count.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel converts a level name to a slog.Level, or nil if unknown.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	return parseLevel(level) != nil
}
