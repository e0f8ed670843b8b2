// Package logging provides levelled logging for tscout, on top of
// go.uber.org/zap. Logger exposes a LogLevel/Config pair, a
// Default()/SetDefault() singleton, and both key-value and printf-style
// methods, so every call site in the tree stays unaware zap is involved.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with level support and a With() method
// for per-component child loggers (Supervisor/Collector/Processor/Scraper
// each tag their own).
type Logger struct {
	sugar *zap.SugaredLogger
	level LogLevel
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo}
}

// NewLogger creates a new logger writing JSON lines to stderr at the
// configured level.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		config.Level.zapLevel(),
	)
	logger := zap.New(core)

	return &Logger{sugar: logger.Sugar(), level: config.Level}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// With returns a child logger tagged with the given key-value pairs,
// carried on every subsequent call. Used to tag a logger with "pid", "ou",
// or "scraper" at construction time.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{sugar: l.sugar.With(kv...), level: l.level}
}

func (l *Logger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// Printf-style logging, for call sites that build their own message
// strings instead of passing structured key-value pairs.
func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Printf is an alias for Infof, satisfying internal/interfaces.Logger for
// code that only needs the printf-style surface.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Sync flushes any buffered log entries. Callers should defer this at
// process exit.
func (l *Logger) Sync() error { return l.sugar.Sync() }

// Global convenience functions operating on the default logger.
func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
