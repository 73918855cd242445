package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// FetchStats is the fetch leg of a per-source telemetry record.
type FetchStats struct {
	OK           bool  `json:"ok"`
	StatusCode   int   `json:"status_code"`
	DurationMS   int64 `json:"duration_ms"`
	ItemsFetched int   `json:"items_fetched"`
}

// EmitStats is the emit leg: what the cycle published for the source.
type EmitStats struct {
	Changed bool `json:"changed"`
	New     int  `json:"new"`
	Updated int  `json:"updated"`
	Removed int  `json:"removed"`
	Flagged int  `json:"flagged"`
}

// StateStats records the cursor transition for the source.
type StateStats struct {
	Cursor     string `json:"cursor"`
	PrevCursor string `json:"prev_cursor"`
}

// Record is one per-source entry in the cycle's telemetry document.
type Record struct {
	RunID  string     `json:"run_id"`
	Source string     `json:"source,omitempty"`
	Fetch  FetchStats `json:"fetch"`
	Emit   EmitStats  `json:"emit"`
	State  StateStats `json:"state"`
}

// Document is the last-cycle telemetry file: one record per source plus
// cycle-level identification.
type Document struct {
	SchemaVersion string   `json:"schema_version"`
	RunID         string   `json:"run_id"`
	StartedAt     string   `json:"started_at"`
	FinishedAt    string   `json:"finished_at"`
	Records       []Record `json:"records"`
}

// NewRunID returns the cycle's run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewDocument starts a telemetry document for one cycle.
func NewDocument(schemaVersion, runID string, startedAt time.Time) Document {
	return Document{
		SchemaVersion: schemaVersion,
		RunID:         runID,
		StartedAt:     startedAt.UTC().Format(time.RFC3339),
		Records:       []Record{},
	}
}
