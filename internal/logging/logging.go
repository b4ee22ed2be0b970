// Package logging provides the leveled logger used across the redirection
// client. It keeps a printf-style API and is backed by zap, with optional
// file rotation through lumberjack.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log severity levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// Options configures the output of the default logger
type Options struct {
	Level        string
	Format       string // "text" or "json"
	File         string // empty logs to stderr
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
	Compress     bool
	EnableCaller bool
}

// Logger provides leveled logging
type Logger struct {
	level zap.AtomicLevel
	mu    sync.RWMutex
	sugar *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default logger instance
func Default() *Logger {
	once.Do(func() {
		level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		defaultLogger = &Logger{
			level: level,
			sugar: zap.New(newCore("text", zapcore.Lock(os.Stderr), level)).Sugar(),
		}
	})
	return defaultLogger
}

// New creates a logger writing to w in the given format, at info level.
func New(w io.Writer, format string) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return &Logger{
		level: level,
		sugar: zap.New(newCore(format, zapcore.AddSync(w), level)).Sugar(),
	}
}

// Configure rebuilds the default logger's output from opts.
func Configure(opts Options) {
	Default().Configure(opts)
}

// Configure rebuilds the logger's output from opts.
func (l *Logger) Configure(opts Options) {
	l.SetLevelFromString(opts.Level)

	var sink zapcore.WriteSyncer
	if opts.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	var zapOpts []zap.Option
	if opts.EnableCaller {
		// Skip the printf wrappers in this package.
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(2))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.sugar.Sync()
	l.sugar = zap.New(newCore(opts.Format, sink, l.level), zapOpts...).Sugar()
}

func newCore(format string, sink zapcore.WriteSyncer, level zap.AtomicLevel) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.CallerKey = "caller"
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)

	var encoder zapcore.Encoder
	if format == "json" {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = bracketLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
		cfg.ConsoleSeparator = " "
		encoder = zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewCore(encoder, sink, level)
}

func bracketLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

// Named returns a child logger sharing level and output, tagged with name.
func (l *Logger) Named(name string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{level: l.level, sugar: l.sugar.Named(name)}
}

// Named returns a child of the default logger.
func Named(name string) *Logger {
	return Default().Named(name)
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level Level) {
	zl, ok := zapLevels[level]
	if !ok {
		zl = zapcore.InfoLevel
	}
	l.level.SetLevel(zl)
}

// SetLevelFromString sets the log level from a string
func (l *Logger) SetLevelFromString(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		l.SetLevel(LevelDebug)
	case "info":
		l.SetLevel(LevelInfo)
	case "warn", "warning":
		l.SetLevel(LevelWarn)
	case "error":
		l.SetLevel(LevelError)
	default:
		l.SetLevel(LevelInfo)
	}
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// GetLevelString returns the current log level as a string
func (l *Logger) GetLevelString() string {
	return levelNames[l.GetLevel()]
}

// GetLevelString returns the default logger's level as a string
func GetLevelString() string {
	return Default().GetLevelString()
}

// Enabled reports whether messages at level are emitted.
func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(zapLevels[level])
}

// Sync flushes buffered output
func (l *Logger) Sync() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar.Sync()
}

func (l *Logger) current() *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.current().Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.current().Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.current().Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.current().Errorf(format, args...)
}

// Package-level convenience functions

// SetLevel sets the default logger's level
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// SetLevelFromString sets the default logger's level from a string
func SetLevelFromString(levelStr string) {
	Default().SetLevelFromString(levelStr)
}

// Debug logs a debug message to the default logger
func Debug(format string, args ...interface{}) {
	Default().Debug(format, args...)
}

// Info logs an info message to the default logger
func Info(format string, args ...interface{}) {
	Default().Info(format, args...)
}

// Warn logs a warning message to the default logger
func Warn(format string, args ...interface{}) {
	Default().Warn(format, args...)
}

// Error logs an error message to the default logger
func Error(format string, args ...interface{}) {
	Default().Error(format, args...)
}
