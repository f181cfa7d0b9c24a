// Package logging provides leveled, component-scoped console logging for the
// message transport system. Lines are written as
// LEVEL TIMESTAMP [component] message key=value ...
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a config string ("debug", "WARN", ...) to a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[l]; ok {
		return l
	}
	return LevelInfo
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that writes nowhere. Used as the default by
// components constructed without a logger.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// WithComponent returns a new logger with the given component name.
// Derived loggers share the parent's output lock.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace_id=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Transport event helpers ---

// HandlerInstalled logs a transfer handler registration.
func (l *Logger) HandlerInstalled(scheme string) {
	l.Info("handler_installed", map[string]interface{}{
		"scheme": scheme,
	})
}

// AddressCreated logs an address allocated for an agent.
func (l *Logger) AddressCreated(agent, address string) {
	l.Debug("address_created", map[string]interface{}{
		"agent":   agent,
		"address": address,
	})
}

// AddressRemoved logs an address released for an agent.
func (l *Logger) AddressRemoved(agent, scheme string) {
	l.Debug("address_removed", map[string]interface{}{
		"agent":  agent,
		"scheme": scheme,
	})
}

// MessageDelivered logs a message accepted by a handler.
func (l *Logger) MessageDelivered(receiver, address string, duration time.Duration) {
	l.Debug("message_delivered", map[string]interface{}{
		"receiver": receiver,
		"address":  address,
		"duration": duration.String(),
	})
}

// DeliveryFailed logs a transport-local failure for one address. The caller
// moves on to the receiver's next address.
func (l *Logger) DeliveryFailed(receiver, address, scheme string, err error) {
	fields := map[string]interface{}{
		"receiver": receiver,
		"address":  address,
	}
	if scheme != "" {
		fields["scheme"] = scheme
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("delivery_failed", fields)
}

// FanOutFailed logs a recipient skipped during a multicast send.
func (l *Logger) FanOutFailed(receiver string, err error) {
	l.Warn("fanout_failed", map[string]interface{}{
		"receiver": receiver,
		"error":    err.Error(),
	})
}
