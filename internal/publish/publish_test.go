package publish

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteJSONCreatesParentsAndWritesCanonical(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diff", "source", "s1", "latest.json")
	if err := WriteJSON(path, map[string]any{"b": 2, "a": 1}); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"a":1,"b":2}` {
		t.Fatalf("content = %s", raw)
	}
}

func TestWriteJSONOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.json")
	if err := WriteJSON(path, map[string]any{"v": 1}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(path, map[string]any{"v": 2}); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != `{"v":2}` {
		t.Fatalf("content = %s", raw)
	}
	// no temp files are left behind
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("stale temp file: %s", e.Name())
		}
	}
}

func TestReadJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := WriteJSON(path, map[string]any{"name": "x"}); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := ReadJSON(path, &got); err != nil {
		t.Fatal(err)
	}
	if got["name"] != "x" {
		t.Fatalf("got = %v", got)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var got map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &got)
	if !os.IsNotExist(err) {
		t.Fatalf("want not-exist error, got %v", err)
	}
}

func TestWriteJSONRejectsNonFinite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := WriteJSON(path, map[string]any{"x": math.NaN()}); err == nil {
		t.Fatal("NaN must not be publishable")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("failed write must leave nothing behind")
	}
}

func TestCycleLockExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	lockPath := filepath.Join(t.TempDir(), ".engine.lock")
	l1, err := AcquireCycleLock(ctx, lockPath, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := AcquireCycleLock(ctx, lockPath, 100*time.Millisecond); err == nil {
		t.Fatal("second acquisition should fail while held")
	}

	if err := l1.Release(); err != nil {
		t.Fatal(err)
	}
	l2, err := AcquireCycleLock(ctx, lockPath, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	l2.Release()
}
