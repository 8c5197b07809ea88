// Package logging provides structured logging for luminus-sync.
package logging

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Format selects how log records are rendered.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Level mirrors zerolog's level names so callers need not import zerolog directly.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger is the structured logging surface used throughout luminus-sync.
// It is a thin facade over zerolog.Logger so call sites never import zerolog
// directly, matching the package-level-interface convention used across the
// rest of this codebase (see internal/engine.Resource).
type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	With() zerolog.Context

	// WithRunID returns a derived Logger that stamps every record with runID.
	WithRunID(runID string) Logger
	// WithFields returns a derived Logger with the given key/value pairs attached.
	WithFields(fields map[string]any) Logger
}

type logger struct {
	zl zerolog.Logger
}

func (l *logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *logger) Error() *zerolog.Event { return l.zl.Error() }
func (l *logger) With() zerolog.Context { return l.zl.With() }

func (l *logger) WithRunID(runID string) Logger {
	return &logger{zl: l.zl.With().Str("run_id", runID).Logger()}
}

func (l *logger) WithFields(fields map[string]any) Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &logger{zl: ctx.Logger()}
}

// New builds a Logger writing to w in the given format, filtering below level.
func New(w io.Writer, format Format, level Level) Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = w
	if format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(level))
	return &logger{zl: zl}
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(os.Stderr, FormatConsole, LevelInfo)
)

// SetDefault installs l as the package-level default logger.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the package-level default logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Init builds and installs the default logger from the given format/level.
// cmd/luminus-sync does not call it; main() builds its logger with New and
// installs it with SetDefault.
func Init(w io.Writer, format Format, level Level) {
	SetDefault(New(w, format, level))
}

type ctxKey struct{}

// IntoContext attaches l to ctx so loader and download goroutines can retrieve
// the run-scoped logger without threading it through every function signature.
func IntoContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger attached to ctx, or the package default if
// none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return Default()
}
