// Package logger provides the structured logging interface used across the
// service. Call sites pass typed fields (logger.String, logger.Error, ...)
// so the backend can be swapped without touching them.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel names a minimum severity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger is the logging contract every component depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that always carries the given fields.
	With(fields ...Field) Logger
	// Module returns a child logger tagged with a component name.
	Module(name string) Logger
}

// Options tunes the zerolog backend.
type Options struct {
	// Console switches to the human readable console writer.
	Console bool
	// TimeFormat is used by the console writer. Defaults to RFC3339.
	TimeFormat string
	// Caller adds file:line to every entry.
	Caller bool
}

type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger creates a Logger writing to w at the given minimum level.
// opts may be nil.
func NewZerologLogger(w io.Writer, level LogLevel, opts *Options) Logger {
	if opts == nil {
		opts = &Options{}
	}
	out := w
	if opts.Console {
		tf := opts.TimeFormat
		if tf == "" {
			tf = time.RFC3339
		}
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: tf}
	}

	ctx := zerolog.New(out).Level(ParseLevel(string(level))).With().Timestamp()
	if opts.Caller {
		ctx = ctx.CallerWithSkipFrameCount(3)
	}
	return &zerologLogger{zl: ctx.Logger()}
}

// NewDefault returns a JSON logger on stdout. ENV=development switches to the
// console writer.
func NewDefault(level LogLevel) Logger {
	return NewZerologLogger(os.Stdout, level, &Options{
		Console: os.Getenv("ENV") == "development",
		Caller:  true,
	})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *zerologLogger) Debug(msg string, fields ...Field) {
	l.log(l.zl.Debug(), msg, fields)
}

func (l *zerologLogger) Info(msg string, fields ...Field) {
	l.log(l.zl.Info(), msg, fields)
}

func (l *zerologLogger) Warn(msg string, fields ...Field) {
	l.log(l.zl.Warn(), msg, fields)
}

func (l *zerologLogger) Error(msg string, fields ...Field) {
	l.log(l.zl.Error(), msg, fields)
}

func (l *zerologLogger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.applyContext(ctx)
	}
	return &zerologLogger{zl: ctx.Logger()}
}

func (l *zerologLogger) Module(name string) Logger {
	return &zerologLogger{zl: l.zl.With().Str("component", name).Logger()}
}

func (l *zerologLogger) log(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		ev = f.applyEvent(ev)
	}
	ev.Msg(msg)
}
