// Package fleetstate loads and persists the engine's single state
// document: one entry per source plus a "_global" entry. Read-or-default
// on load, atomic write on save.
package fleetstate

import (
	"os"
	"time"

	"github.com/deltafeed/engine/internal/model"
	"github.com/deltafeed/engine/internal/publish"
	"github.com/deltafeed/engine/pkg/canonical"
)

// Load reads the fleet state document at path. A missing file yields an
// empty state rather than an error: the first cycle for a fresh
// installation has no prior state.
func Load(path string) (model.FleetState, error) {
	var state model.FleetState
	err := publish.ReadJSON(path, &state)
	if os.IsNotExist(err) {
		return model.FleetState{Sources: map[string]model.FleetSourceState{}}, nil
	}
	if err != nil {
		return model.FleetState{}, err
	}
	if state.Sources == nil {
		state.Sources = map[string]model.FleetSourceState{}
	}
	return state, nil
}

// Save writes state atomically to path.
func Save(path string, state model.FleetState) error {
	return publish.WriteJSON(path, state)
}

// RecordSuccess updates a source's entry after a successful, possibly
// no-change, cycle.
func RecordSuccess(state *model.FleetState, source, hash string, cursor canonical.Cursor, itemHashes map[string]string, at time.Time) {
	entry := state.Sources[source]
	entry.LastHash = hash
	entry.LastCursor = cursor
	entry.LastSuccessAt = at.UTC().Format(time.RFC3339)
	entry.LastError = ""
	entry.LastErrorAt = ""
	if itemHashes != nil {
		entry.ItemHashes = itemHashes
	}
	state.Sources[source] = entry
}

// RecordError updates a source's entry after a failed fetch, leaving
// last_hash/last_cursor untouched so the next successful cycle still
// diffs against the last known-good state.
func RecordError(state *model.FleetState, source, errMsg string, at time.Time) {
	entry := state.Sources[source]
	entry.LastError = errMsg
	entry.LastErrorAt = at.UTC().Format(time.RFC3339)
	state.Sources[source] = entry
}
