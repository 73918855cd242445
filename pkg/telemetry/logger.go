// Package telemetry is a bounded, structured JSON-lines logger plus the
// per-cycle telemetry document. Field counts and lengths are capped and
// fields are emitted in sorted order, so identical events always produce
// identical lines.
package telemetry

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deltafeed/engine/pkg/canonical"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	MaxFields     = 64
	MaxKeyLen     = 64
	MaxValLen     = 512
	MaxMessageLen = 1024
	MaxServiceLen = 64
)

// Field is a deterministic key/value field.
type Field struct {
	K string `json:"k"`
	V string `json:"v"`
}

// Event is a single log record (one JSON line).
type Event struct {
	Ts      string  `json:"ts"`
	Level   Level   `json:"level"`
	Service string  `json:"service,omitempty"`
	Msg     string  `json:"msg"`
	Fields  []Field `json:"fields,omitempty"`
}

// Logger is a structured JSON-lines logger.
type Logger struct {
	w       io.Writer
	mu      sync.Mutex
	service string
	level   Level
}

// Nop discards everything.
var Nop = &Logger{w: io.Discard, level: LevelError}

// New creates a logger writing JSON lines to w at or above level.
func New(w io.Writer, service string, level Level) *Logger {
	if w == nil {
		w = os.Stdout
	}
	service = strings.TrimSpace(service)
	if len(service) > MaxServiceLen {
		service = service[:MaxServiceLen]
	}
	if level == "" {
		level = LevelInfo
	}
	return &Logger{w: w, service: service, level: level}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

func rank(l Level) int {
	switch l {
	case LevelDebug:
		return 1
	case LevelInfo:
		return 2
	case LevelWarn:
		return 3
	default:
		return 4
	}
}

func (l *Logger) enabled(level Level) bool {
	return l != nil && rank(level) >= rank(l.level)
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if !l.enabled(level) {
		return
	}
	ev := Event{
		Ts:      time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level,
		Service: l.service,
		Msg:     sanitize(msg, MaxMessageLen),
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			if k2 := strings.TrimSpace(k); k2 != "" && len(k2) <= MaxKeyLen {
				keys = append(keys, k2)
			}
		}
		sort.Strings(keys)
		ev.Fields = make([]Field, 0, minInt(len(keys), MaxFields))
		for _, k := range keys {
			if len(ev.Fields) >= MaxFields {
				ev.Fields = append(ev.Fields, Field{K: "log_truncated", V: "true"})
				break
			}
			ev.Fields = append(ev.Fields, Field{K: k, V: sanitize(valueToString(fields[k]), MaxValLen)})
		}
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(line)
	_, _ = l.w.Write([]byte("\n"))
}

func sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// valueToString renders a field value deterministically: primitives
// directly, composite values via the canonical encoder so two runs with
// the same field value always log the same line.
func valueToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case error:
		return x.Error()
	default:
		b, err := canonical.JSON(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
