// Package logger provides the structured logger shared by the client,
// the server, and the CLI, built on log/slog with optional fan-out to a
// log file via slog-multi.
package logger

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Logger wraps *slog.Logger with the request-scoped field helpers the
// rest of cybs3 uses.
type Logger struct {
	*slog.Logger
}

type options struct {
	debug   bool
	quiet   bool
	format  string
	logFile *os.File
}

// Option configures New.
type Option func(*options)

// WithDebug enables debug-level logging.
func WithDebug() Option { return func(o *options) { o.debug = true } }

// WithQuiet suppresses all but warning-and-above output to stdout. The
// log file, if set, still receives everything.
func WithQuiet() Option { return func(o *options) { o.quiet = true } }

// WithFormat selects "json" or "text" output. Empty means "text".
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithLogFile tees output to f in addition to stdout.
func WithLogFile(f *os.File) Option { return func(o *options) { o.logFile = f } }

// New builds a Logger from the given options.
func New(opts ...Option) *Logger {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}

	stdoutLevel := level
	if o.quiet {
		stdoutLevel = slog.LevelWarn
	}

	handlerFor := func(w io.Writer, lvl slog.Level) slog.Handler {
		hopts := &slog.HandlerOptions{Level: lvl}
		if o.format == "json" {
			return slog.NewJSONHandler(w, hopts)
		}
		return slog.NewTextHandler(w, hopts)
	}

	var handler slog.Handler
	if o.logFile != nil {
		handler = slogmulti.Fanout(
			handlerFor(os.Stdout, stdoutLevel),
			handlerFor(o.logFile, level),
		)
	} else {
		handler = handlerFor(os.Stdout, stdoutLevel)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a Logger that drops all output, for use in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithFields returns a child logger with the given key/value pairs
// attached to every record, mirroring dagu's
// logrus.Fields-per-request pattern but via slog attrs.
func (l *Logger) WithFields(kv ...any) *Logger {
	return &Logger{Logger: l.Logger.With(kv...)}
}
