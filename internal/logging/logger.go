package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger that hands out per-subsystem children, so
// every line from the tool manager, agent or gateway names its origin.
type Logger struct {
	zl zerolog.Logger
}

// Options controls how a root logger is assembled from configuration.
type Options struct {
	Level        string
	ConsoleStyle string // pretty or json
	File         string // optional JSON sink, appended
}

// New returns a root logger at level. A nil w means colored console
// output on stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	zl = zl.Level(parseLevel(level))
	return &Logger{zl: zl}
}

// Open builds a root logger from Options. The returned closer releases the
// file sink, if any, and is never nil.
func Open(opts Options) (*Logger, io.Closer, error) {
	var console io.Writer
	switch opts.ConsoleStyle {
	case "json":
		console = os.Stderr
	default:
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if opts.File == "" {
		return New(console, opts.Level), nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return New(zerolog.MultiLevelWriter(console, f), opts.Level), f, nil
}

// Sub returns a child logger tagged with a subsystem name.
func (l *Logger) Sub(subsystem string) *Logger {
	return &Logger{zl: l.zl.With().Str("subsystem", subsystem).Logger()}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Fatal exits the process once the event is sent.
func (l *Logger) Fatal() *zerolog.Event { return l.zl.Fatal() }

// Zerolog returns the underlying logger, e.g. to hand to a library.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// Levels lists the accepted level names, most quiet first.
var Levels = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}

// parseLevel maps a config level name to zerolog. "silent" disables
// output; unknown names fall back to info.
func parseLevel(s string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "silent" {
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || lvl > zerolog.FatalLevel || lvl < zerolog.TraceLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
