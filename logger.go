package devrev

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging surface the client needs. Key
// value pairs alternate keys and values, zerolog-style.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DebugConfig selects which lifecycle events are logged. All flags off means
// silence even when a logger is configured.
type DebugConfig struct {
	LogRequests  bool
	LogRetries   bool
	LogBreaker   bool
	LogCache     bool
	LogRateLimit bool

	// RequestIDGen generates correlation ids attached to logs and surfaced
	// errors. Nil means no ids.
	RequestIDGen func() string
}

// DefaultDebugConfig enables every event category with random request ids.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogRequests:  true,
		LogRetries:   true,
		LogBreaker:   true,
		LogCache:     true,
		LogRateLimit: true,
		RequestIDGen: defaultRequestIDGen,
	}
}

// anyEnabled reports whether at least one event category is selected.
func (d *DebugConfig) anyEnabled() bool {
	return d.LogRequests || d.LogRetries || d.LogBreaker || d.LogCache || d.LogRateLimit
}

func defaultRequestIDGen() string {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(zl zerolog.Logger) Logger {
	return &zerologLogger{zl: zl}
}

// NewConsoleLogger creates a human-readable logger writing to w, suitable for
// development. Pass nil to write to stderr.
func NewConsoleLogger(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.emit(l.zl.Debug(), msg, keysAndValues)
}

func (l *zerologLogger) Info(msg string, keysAndValues ...interface{}) {
	l.emit(l.zl.Info(), msg, keysAndValues)
}

func (l *zerologLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.emit(l.zl.Warn(), msg, keysAndValues)
}

func (l *zerologLogger) Error(msg string, keysAndValues ...interface{}) {
	l.emit(l.zl.Error(), msg, keysAndValues)
}

func (l *zerologLogger) emit(ev *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

// nopLogger discards everything. Used when no logger is configured so call
// sites never nil-check.
type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
