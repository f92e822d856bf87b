// Package log provides leveled, structured logging for the restructuring
// pipeline. Output goes to stderr so structured trees printed on stdout stay
// machine-readable.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown strings mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger is the logging surface the rest of the module depends on. Args are
// alternating key/value pairs appended to the message.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	SetLevel(level Level)
	SetJSONOutput(enabled bool)
}

// Config holds logger construction options.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

type leveledLogger struct {
	mu         sync.Mutex
	level      Level
	jsonOutput bool
	out        io.Writer
	colors     bool
}

var (
	defaultLogger Logger
	once          sync.Once
)

// New creates a logger. A nil Output defaults to stderr.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &leveledLogger{
		level:      cfg.Level,
		jsonOutput: cfg.JSONOutput,
		out:        out,
		colors:     colorsEnabled(out),
	}
}

// Default returns the shared process-wide logger at info level.
func Default() Logger {
	once.Do(func() {
		defaultLogger = New(Config{Level: InfoLevel})
	})
	return defaultLogger
}

func colorsEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func (l *leveledLogger) Debug(msg string, args ...interface{}) { l.log(DebugLevel, msg, args) }
func (l *leveledLogger) Info(msg string, args ...interface{})  { l.log(InfoLevel, msg, args) }
func (l *leveledLogger) Warn(msg string, args ...interface{})  { l.log(WarnLevel, msg, args) }
func (l *leveledLogger) Error(msg string, args ...interface{}) { l.log(ErrorLevel, msg, args) }

func (l *leveledLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *leveledLogger) SetJSONOutput(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jsonOutput = enabled
}

func (l *leveledLogger) log(level Level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")

	if l.jsonOutput {
		entry := map[string]interface{}{
			"timestamp": now,
			"level":     level.String(),
			"message":   msg,
		}
		for i := 0; i+1 < len(args); i += 2 {
			key, ok := args[i].(string)
			if !ok {
				continue
			}
			entry[key] = fmt.Sprintf("%v", args[i+1])
		}
		data, err := json.Marshal(entry)
		if err != nil {
			// Fall back to a plain line rather than dropping the record.
			fmt.Fprintf(l.out, "[%s] %s: %s\n", now, level.String(), msg)
			return
		}
		fmt.Fprintln(l.out, string(data))
		return
	}

	line := msg + formatArgs(args)
	if l.colors {
		line = levelColor(level) + line + "\033[0m"
	}
	fmt.Fprintf(l.out, "[%s] %s: %s\n", now, level.String(), line)
}

func formatArgs(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	var sb strings.Builder
	if len(args)%2 != 0 {
		fmt.Fprintf(&sb, " %v", args[0])
		args = args[1:]
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, " %s=%v", key, args[i+1])
	}
	return sb.String()
}

func levelColor(level Level) string {
	switch level {
	case DebugLevel:
		return "\033[36m"
	case InfoLevel:
		return "\033[32m"
	case WarnLevel:
		return "\033[33m"
	case ErrorLevel:
		return "\033[31m"
	default:
		return ""
	}
}

// Capture is a Logger that records entries in memory. Tests use it to assert
// on warnings emitted by the structuring passes.
type Capture struct {
	mu      sync.Mutex
	Entries []CapturedEntry
}

// CapturedEntry is one recorded log call.
type CapturedEntry struct {
	Level   Level
	Message string
	Args    map[string]string
}

func (c *Capture) record(level Level, msg string, args []interface{}) {
	entry := CapturedEntry{Level: level, Message: msg, Args: map[string]string{}}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		entry.Args[key] = fmt.Sprintf("%v", args[i+1])
	}
	c.mu.Lock()
	c.Entries = append(c.Entries, entry)
	c.mu.Unlock()
}

func (c *Capture) Debug(msg string, args ...interface{}) { c.record(DebugLevel, msg, args) }
func (c *Capture) Info(msg string, args ...interface{})  { c.record(InfoLevel, msg, args) }
func (c *Capture) Warn(msg string, args ...interface{})  { c.record(WarnLevel, msg, args) }
func (c *Capture) Error(msg string, args ...interface{}) { c.record(ErrorLevel, msg, args) }
func (c *Capture) SetLevel(Level)                        {}
func (c *Capture) SetJSONOutput(bool)                    {}

// Messages returns the recorded messages at or above level in arrival order.
func (c *Capture) Messages(level Level) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.Entries {
		if e.Level >= level {
			out = append(out, e.Message)
		}
	}
	return out
}
