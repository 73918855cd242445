package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "deltafeed", LevelInfo)
	log.Info("source_processed", map[string]any{"source": "rss_demo", "items": 2})

	line := strings.TrimSpace(buf.String())
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("not a json line: %q", line)
	}
	if ev.Level != LevelInfo || ev.Msg != "source_processed" || ev.Service != "deltafeed" {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.Fields) != 2 || ev.Fields[0].K != "items" || ev.Fields[1].K != "source" {
		t.Fatalf("fields not sorted: %+v", ev.Fields)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "d", LevelWarn)
	log.Info("hidden", nil)
	log.Warn("shown", nil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestLoggerBoundsFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "d", LevelInfo)
	fields := map[string]any{}
	for i := 0; i < MaxFields+20; i++ {
		fields[strings.Repeat("k", 10)+string(rune('a'+i%26))+string(rune('a'+i/26))] = i
	}
	log.Info("big", fields)
	var ev Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &ev); err != nil {
		t.Fatal(err)
	}
	if len(ev.Fields) > MaxFields+1 {
		t.Fatalf("fields not bounded: %d", len(ev.Fields))
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	Nop.Info("ignored", map[string]any{"a": 1})
	Nop.Error("ignored", nil)
}

func TestNewRunIDUnique(t *testing.T) {
	if NewRunID() == NewRunID() {
		t.Fatal("run ids collided")
	}
}
