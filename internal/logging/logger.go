package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// levelRank orders levels for min-level filtering.
var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

// ParseLevel converts a settings string ("debug", "INFO", ...) into a LogLevel.
// Unknown strings default to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LogLevelDebug
	case "INFO":
		return LogLevelInfo
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	case "FATAL", "CRITICAL":
		return LogLevelFatal
	default:
		return LogLevelInfo
	}
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// LogFormatter formats log entries for output
type LogFormatter interface {
	Format(entry *LogEntry) string
}

// TextFormatter formats logs as human-readable text
type TextFormatter struct{}

func (f *TextFormatter) Format(entry *LogEntry) string {
	timestamp := entry.Timestamp.Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf("[%s] %s [%s] %s", timestamp, entry.Level, entry.Component, entry.Message)

	if entry.Error != "" {
		msg += fmt.Sprintf(" | error=%s", entry.Error)
	}

	if len(entry.Context) > 0 {
		msg += " |"
		for k, v := range entry.Context {
			msg += fmt.Sprintf(" %s=%v", k, v)
		}
	}

	return msg + "\n"
}

// JSONLinesFormatter formats each entry as one JSON object per line,
// suitable for file sinks consumed by external log tooling.
type JSONLinesFormatter struct{}

func (f *JSONLinesFormatter) Format(entry *LogEntry) string {
	b, err := json.Marshal(entry)
	if err != nil {
		// Marshal only fails on unencodable context values; degrade to text.
		return (&TextFormatter{}).Format(entry)
	}
	return string(b) + "\n"
}

// Logger provides structured logging for one component
type Logger struct {
	component string
	mu        sync.Mutex
	minLevel  LogLevel
	outputs   []sink
}

// sink pairs a writer with the formatter used for it, so a console output
// can stay human-readable while a file output emits JSON lines.
type sink struct {
	w         io.Writer
	formatter LogFormatter
}

// NewLogger creates a new logger for a specific component
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		minLevel:  LogLevelInfo,
		outputs: []sink{
			{w: os.Stdout, formatter: &TextFormatter{}},
		},
	}
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Logger)
)

// GetLogger returns the shared logger for a component, creating it on first
// use. Level and output changes apply to every holder of the same component
// name, so process-wide log configuration only has to touch each component
// once.
func GetLogger(component string) *Logger {
	registryMu.Lock()
	defer registryMu.Unlock()
	if l, ok := registry[component]; ok {
		return l
	}
	l := NewLogger(component)
	registry[component] = l
	return l
}

// SetMinLevel sets the minimum log level to output
func (l *Logger) SetMinLevel(level LogLevel) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
	return l
}

// AddOutput adds an output writer with its own formatter
func (l *Logger) AddOutput(w io.Writer, formatter LogFormatter) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if formatter == nil {
		formatter = &TextFormatter{}
	}
	l.outputs = append(l.outputs, sink{w: w, formatter: formatter})
	return l
}

// ReplaceOutputs swaps the output set, used by tests to capture log lines.
func (l *Logger) ReplaceOutputs(w io.Writer, formatter LogFormatter) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if formatter == nil {
		formatter = &TextFormatter{}
	}
	l.outputs = []sink{{w: w, formatter: formatter}}
	return l
}

// log writes a log entry to every output
func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	entry := &LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Component: l.component,
		Message:   message,
		Context:   context,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	for _, out := range l.outputs {
		out.w.Write([]byte(out.formatter.Format(entry)))
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(LogLevelDebug, message, nil, nil)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelDebug, message, nil, context)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(LogLevelInfo, message, nil, nil)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelInfo, message, nil, context)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(LogLevelWarn, message, nil, nil)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelWarn, message, nil, context)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(LogLevelError, message, err, nil)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.log(LogLevelError, message, err, context)
}

// Fatal logs a fatal error message; it does not exit the process
func (l *Logger) Fatal(message string, err error) {
	l.log(LogLevelFatal, message, err, nil)
}

// FatalWithContext logs a fatal error message with context
func (l *Logger) FatalWithContext(message string, err error, context map[string]interface{}) {
	l.log(LogLevelFatal, message, err, context)
}

// WithContext returns a logger view that includes pre-set context on every entry
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:  l,
		context: context,
	}
}

// ContextLogger is a logger with pre-set context
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

func (cl *ContextLogger) Debug(message string) {
	cl.logger.log(LogLevelDebug, message, nil, cl.context)
}

func (cl *ContextLogger) Info(message string) {
	cl.logger.log(LogLevelInfo, message, nil, cl.context)
}

func (cl *ContextLogger) Warn(message string) {
	cl.logger.log(LogLevelWarn, message, nil, cl.context)
}

func (cl *ContextLogger) Error(message string, err error) {
	cl.logger.log(LogLevelError, message, err, cl.context)
}
