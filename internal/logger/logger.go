// Package logger provides leveled, component-scoped logging with text or JSON output.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
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
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to a LogLevel. Unknown values map to LevelInfo.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
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

// OutputFormat determines how logs are formatted
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseOutputFormat converts a string to an OutputFormat
func ParseOutputFormat(format string) OutputFormat {
	if strings.EqualFold(format, "json") {
		return FormatJSON
	}
	return FormatText
}

// Config holds logger configuration
type Config struct {
	Level  LogLevel
	Format OutputFormat
	Output io.Writer
}

// Logger writes leveled log lines. It is safe for concurrent use.
type Logger struct {
	level  LogLevel
	format OutputFormat
	out    *syncWriter
	fields map[string]interface{}
	exit   func(int)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.w, p)
}

// New creates a text logger on stdout, at debug level when debug is set.
func New(debug bool) *Logger {
	level := LevelInfo
	if debug {
		level = LevelDebug
	}
	return NewWithConfig(Config{Level: level, Format: FormatText})
}

// NewWithConfig creates a logger with detailed configuration
func NewWithConfig(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Logger{
		level:  cfg.Level,
		format: cfg.Format,
		out:    &syncWriter{w: cfg.Output},
		fields: map[string]interface{}{},
		exit:   os.Exit,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithConfig(Config{Level: LevelFatal + 1, Output: io.Discard})
}

type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) log(level LogLevel, component, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	all := merge(l.fields, fields)
	entry := logEntry{
		Timestamp: time.Now().Format("2006/01/02 15:04:05.000000"),
		Level:     level.String(),
		Component: component,
		Message:   message,
		Fields:    all,
	}

	var line string
	if l.format == FormatJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			line = fmt.Sprintf("%s [%s] %s\n", entry.Timestamp, entry.Level, message)
		} else {
			line = string(data) + "\n"
		}
	} else {
		line = formatText(entry)
	}

	l.out.write(line)

	if level == LevelFatal {
		l.exit(1)
	}
}

func formatText(e logEntry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp)
	b.WriteString(" [")
	b.WriteString(e.Level)
	b.WriteString("] ")
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		b.WriteString("] ")
	}
	b.WriteString(e.Message)

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
		}
	}
	b.WriteString("\n")
	return b.String()
}

func merge(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// WithFields returns a new logger carrying additional fields on every line.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		level:  l.level,
		format: l.format,
		out:    l.out,
		fields: merge(l.fields, fields),
		exit:   l.exit,
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, "", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, "", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, "", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, "", fmt.Sprintf(format, args...), nil)
}

// Fatal logs a fatal error and exits
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, "", fmt.Sprintf(format, args...), nil)
}

// With returns a contextual logger with a component name
func (l *Logger) With(component string) *ContextLogger {
	return &ContextLogger{logger: l, component: component}
}

// ContextLogger tags every line with a component name.
type ContextLogger struct {
	logger    *Logger
	component string
	fields    map[string]interface{}
}

// WithFields returns a new context logger with additional fields
func (c *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:    c.logger,
		component: c.component,
		fields:    merge(c.fields, fields),
	}
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	c.logger.log(LevelInfo, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) InfoWithFields(message string, fields map[string]interface{}) {
	c.logger.log(LevelInfo, c.component, message, merge(c.fields, fields))
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	c.logger.log(LevelError, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) ErrorWithFields(message string, fields map[string]interface{}) {
	c.logger.log(LevelError, c.component, message, merge(c.fields, fields))
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	c.logger.log(LevelDebug, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) DebugWithFields(message string, fields map[string]interface{}) {
	c.logger.log(LevelDebug, c.component, message, merge(c.fields, fields))
}

func (c *ContextLogger) Warn(format string, args ...interface{}) {
	c.logger.log(LevelWarn, c.component, fmt.Sprintf(format, args...), c.fields)
}

func (c *ContextLogger) WarnWithFields(message string, fields map[string]interface{}) {
	c.logger.log(LevelWarn, c.component, message, merge(c.fields, fields))
}

func (c *ContextLogger) Fatal(format string, args ...interface{}) {
	c.logger.log(LevelFatal, c.component, fmt.Sprintf(format, args...), c.fields)
}
