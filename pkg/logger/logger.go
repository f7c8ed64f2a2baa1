// Package logger provides the structured logger used by the domain engines,
// the application layer and the HTTP surface. Infrastructure code logs with
// log/slog instead.
//
// Entries never carry raw event values: keys listed in Options.Redact (by
// default the PII-shaped ones) are masked before an entry is written.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError

	// levelOff is above every level a caller can log at.
	levelOff
)

// String returns the string representation of the log level.
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
	default:
		return "OFF"
	}
}

// ParseLevel parses a level name. Unknown names mean info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field          { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field         { return Field{Key: key, Value: value} }

// Err creates an error field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Pipeline fields. Entity IDs are pseudonyms by the time they get here.
func EntityID(id string) Field      { return String("entity_id", id) }
func SensorType(t string) Field     { return String("sensor_type", t) }
func Severity(s string) Field       { return String("severity", s) }
func PatternID(id string) Field     { return String("pattern_id", id) }
func Reason(r string) Field         { return String("reason", r) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func RequestID(id string) Field     { return String("request_id", id) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// DefaultRedact lists the keys masked when Options.Redact is nil.
var DefaultRedact = []string{"email", "phone", "name", "address", "raw_event"}

const redacted = "[redacted]"

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     Level
	AddCaller bool

	// Format is "json" (default) or "text".
	Format string

	// Redact lists keys whose values are masked. Nil means DefaultRedact,
	// an empty non-nil slice masks nothing.
	Redact []string

	// Now stamps entries. Defaults to time.Now.
	Now func() time.Time
}

// entry is a single JSON log line.
type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// sink is shared by a logger and everything derived from it with With, so
// that writes to one output stay serialised.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

// Logger writes structured entries to one output.
type Logger struct {
	sink      *sink
	level     Level
	text      bool
	addCaller bool
	redact    []string
	now       func() time.Time
	fields    []Field
}

// New creates a new Logger with the given options.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Redact == nil {
		opts.Redact = DefaultRedact
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Logger{
		sink:      &sink{out: opts.Output},
		level:     opts.Level,
		text:      strings.EqualFold(opts.Format, "text"),
		addCaller: opts.AddCaller,
		redact:    opts.Redact,
		now:       opts.Now,
	}
}

// Default logs info and above as JSON to stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo})
}

// Nop returns a logger that discards everything. Domain engines use it when
// the caller does not inject one.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: levelOff})
}

// Enabled reports whether entries at level are written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level && level < levelOff
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	clone := *l
	clone.fields = append(slices.Clip(l.fields), fields...)
	return &clone
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []Field) {
	if !l.Enabled(level) {
		return
	}

	e := entry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
	}
	if l.addCaller {
		// log <- Info/Warn/... <- caller
		if _, file, line, ok := runtime.Caller(2); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			e.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}
	if n := len(l.fields) + len(fields); n > 0 {
		e.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			e.Fields[f.Key] = l.mask(f)
		}
		for _, f := range fields {
			e.Fields[f.Key] = l.mask(f)
		}
	}

	var line []byte
	if l.text {
		line = formatText(e)
	} else {
		data, err := json.Marshal(e)
		if err != nil {
			data = []byte(fmt.Sprintf(`{"timestamp":%q,"level":%q,"message":%q}`, e.Timestamp, e.Level, msg))
		}
		line = append(data, '\n')
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out.Write(line)
}

func (l *Logger) mask(f Field) any {
	if f.Value != nil && slices.Contains(l.redact, strings.ToLower(f.Key)) {
		return redacted
	}
	return f.Value
}

// formatText renders "ts LEVEL msg k=v ..." with keys in sorted order.
func formatText(e entry) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", e.Timestamp, e.Level, e.Message)
	if e.Caller != "" {
		fmt.Fprintf(&b, " caller=%s", e.Caller)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(e.Fields[k])
		if strings.ContainsAny(v, " \t\"=") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
