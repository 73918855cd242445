// Package publish writes feed and state documents atomically: encode to
// canonical JSON, write to a sibling temp file, fsync, then rename over
// the destination. Readers never observe a partial file.
package publish

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deltafeed/engine/pkg/canonical"
)

// WriteJSON canonicalizes v and writes it to path via a temp-file +
// rename sequence, so a crash mid-write never leaves a partial or
// corrupt file at path.
func WriteJSON(path string, v any) error {
	body, err := canonical.JSON(v)
	if err != nil {
		return fmt.Errorf("publish: canonicalize %s: %w", path, err)
	}
	return WriteBytes(path, body)
}

// WriteBytes is WriteJSON's primitive: write body to path atomically.
func WriteBytes(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("publish: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("publish: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("publish: write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("publish: fsync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("publish: close temp for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("publish: chmod temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish: rename into %s: %w", path, err)
	}
	return nil
}

// ReadJSON is the read-side counterpart used by fleetstate/knownissues
// loaders, kept here so every document in the engine goes through one
// decode path.
func ReadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
