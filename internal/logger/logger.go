package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Constants for logging levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Environments: dev logs as text, prod logs as JSON
const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
)

// Logger interface defines the logging contract
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

type options struct {
	file string
}

type Option func(*options)

// Duplicate log output to the file. The file is rotated by size
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// New creates logger suitable for the environment
func New(env string, level string, opts ...Option) (Logger, error) {
	switch env {
	case EnvDevelopment:
		return NewTextLogger(level, opts...)
	case EnvProduction:
		return NewJSONLogger(level, opts...)
	default:
		return nil, fmt.Errorf("unknown environment %q, use %q or %q", env, EnvDevelopment, EnvProduction)
	}
}

// NewTextLogger creates a new text logger writing to stderr
func NewTextLogger(level string, opts ...Option) (Logger, error) {
	return newLogger(level, opts, func(w io.Writer, o *slog.HandlerOptions) slog.Handler {
		return slog.NewTextHandler(w, o)
	})
}

// NewJSONLogger creates a new JSON logger writing to stderr
func NewJSONLogger(level string, opts ...Option) (Logger, error) {
	return newLogger(level, opts, func(w io.Writer, o *slog.HandlerOptions) slog.Handler {
		return slog.NewJSONHandler(w, o)
	})
}

// NewNoOpLogger creates a logger that discards all log messages
func NewNoOpLogger() Logger {
	return &slogLogger{logger: slog.New(slog.DiscardHandler)}
}

func newLogger(level string, opts []Option, newHandler func(io.Writer, *slog.HandlerOptions) slog.Handler) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var w io.Writer = os.Stderr
	if o.file != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   o.file,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	handler := newHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   true,
		ReplaceAttr: replace,
	})

	return &slogLogger{logger: slog.New(handler)}, nil
}
