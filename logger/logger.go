package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Format represents the output format for log messages.
type Format int

const (
	FormatNormal Format = iota
	FormatJSON
)

// ParseLevel converts a string to a Level. Case-insensitive. Defaults to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ParseFormat converts a string to a Format. Case-insensitive. Defaults to FormatNormal.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatNormal
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "???"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// KV is an ordered key-value pair for structured event logging.
type KV struct {
	Key   string
	Value string
}

// Logger is a leveled logger over zerolog. Lifecycle events emitted through
// Event bypass the level filter so capture start/end is always visible.
type Logger struct {
	mu     sync.Mutex
	level  Level
	format Format
	out    io.Writer
	zl     zerolog.Logger
	fields []KV
}

// New creates a Logger at the given level writing to stderr.
func New(level Level) *Logger {
	l := &Logger{level: level, out: os.Stderr}
	l.rebuild()
	return l
}

// Nop returns a Logger that discards everything. Intended for tests.
func Nop() *Logger {
	l := &Logger{level: LevelFatal, out: io.Discard}
	l.rebuild()
	return l
}

// SetFormat sets the output format (normal or JSON).
func (l *Logger) SetFormat(f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = f
	l.rebuild()
}

// SetOutput redirects all output to w.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	l.rebuild()
}

// With returns a child logger that stamps key=value on every line.
func (l *Logger) With(key, value string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	child := &Logger{
		level:  l.level,
		format: l.format,
		out:    l.out,
		fields: append(append([]KV(nil), l.fields...), KV{key, value}),
	}
	child.rebuild()
	return child
}

// rebuild must be called with mu held.
func (l *Logger) rebuild() {
	var w io.Writer = l.out
	if l.format == FormatNormal {
		w = zerolog.ConsoleWriter{Out: l.out, TimeFormat: "2006/01/02 15:04:05", NoColor: true}
	}
	ctx := zerolog.New(w).With().Timestamp()
	for _, kv := range l.fields {
		ctx = ctx.Str(kv.Key, kv.Value)
	}
	l.zl = ctx.Logger().Level(zerolog.TraceLevel)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(format string, args ...any) { l.emit(LevelDebug, format, args...) }

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...any) { l.emit(LevelInfo, format, args...) }

// Warn logs at WARN level.
func (l *Logger) Warn(format string, args ...any) { l.emit(LevelWarn, format, args...) }

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...any) { l.emit(LevelError, format, args...) }

// Fatal logs at FATAL level then exits.
func (l *Logger) Fatal(format string, args ...any) {
	l.emit(LevelFatal, format, args...)
	os.Exit(1)
}

// Event emits a structured lifecycle event with ordered key-value pairs.
// Events always emit regardless of log level.
//
// Normal format: 2006/01/02 15:04:05 INF CAPTURE START event="CAPTURE START" file=/path/to/file
// JSON format:   {"level":"info","event":"CAPTURE START","file":"/path/to/file","time":"..."}
func (l *Logger) Event(event string, kvs ...KV) {
	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()

	e := zl.Log().Str("level", "info").Str("event", event)
	for _, kv := range kvs {
		e = e.Str(kv.Key, kv.Value)
	}
	e.Msg(event)
}

// Writer returns an io.Writer that logs each line at the given level.
// Useful for capturing subprocess output (e.g. ffmpeg stderr).
func (l *Logger) Writer(level Level) io.Writer {
	return &writerAdapter{logger: l, level: level}
}

func (l *Logger) emit(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()

	// WithLevel never exits, even at FatalLevel.
	zl.WithLevel(level.zerolog()).Msg(fmt.Sprintf(format, args...))
}

type writerAdapter struct {
	logger *Logger
	level  Level
}

func (w *writerAdapter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n\r"), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			w.logger.emit(w.level, "%s", line)
		}
	}
	return len(p), nil
}
