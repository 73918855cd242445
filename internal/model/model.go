// Package model holds the data types shared across the engine: source
// configuration, normalized items, delta items, feed documents, and fleet
// state. None of these types carry behavior beyond small invariant
// checks; the components in sibling internal/ packages operate on them.
package model

import (
	"encoding/json"
	"strings"

	"github.com/deltafeed/engine/pkg/canonical"
)

// SourceConfig is one entry of sources.config.json's "sources" map.
type SourceConfig struct {
	Enabled bool              `json:"enabled"`
	Adapter string            `json:"adapter"` // json | rss | html | moltbook-legacy
	Config  map[string]any    `json:"config"`
	Paths   SourceConfigPaths `json:"paths"`
}

type SourceConfigPaths struct {
	Latest string `json:"latest"`
}

// TTLSecOr returns config.ttl_sec if present and positive, else def.
func (c SourceConfig) TTLSecOr(def int) int {
	if c.Config == nil {
		return def
	}
	switch v := c.Config["ttl_sec"].(type) {
	case float64:
		if v >= 1 {
			return int(v)
		}
	}
	return def
}

// MaxItemsOr returns config.max_items bounded to [1, cap], else def.
func (c SourceConfig) MaxItemsOr(def, cap int) int {
	if c.Config != nil {
		if v, ok := c.Config["max_items"].(float64); ok && v >= 1 {
			def = int(v)
		}
	}
	if def > cap {
		return cap
	}
	if def < 1 {
		return 1
	}
	return def
}

// NormalizedItem is an adapter's projection of one raw upstream item.
type NormalizedItem struct {
	Source      string `json:"source"`
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	PublishedAt string `json:"published_at"`
	UpdatedAt   string `json:"updated_at"`
	Content     string `json:"content"`

	// SourcePayload preserves raw upstream fields not folded into the
	// normalized projection above, for provenance.
	SourcePayload map[string]any `json:"-"`
}

// ContentProjection is the canonical projection hashed for ContentHash.
type ContentProjection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// ContentHash returns hex SHA-256 of the canonical {title, content, url}
// projection with leading/trailing whitespace stripped.
func (n NormalizedItem) ContentHash() (string, error) {
	return canonical.HashJSON(ContentProjection{
		Title:   strings.TrimSpace(n.Title),
		Content: strings.TrimSpace(n.Content),
		URL:     strings.TrimSpace(n.URL),
	})
}

// Risk is the risk v0 output for one item.
type Risk struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Provenance records fetch-time facts about one item.
type Provenance struct {
	FetchedAt    string   `json:"fetched_at"`
	EvidenceURLs []string `json:"evidence_urls"`
	ContentHash  string   `json:"content_hash"`
}

// DeltaItem is one entry of a feed bucket.
type DeltaItem struct {
	Source        string         `json:"source"`
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Title         string         `json:"title,omitempty"`
	PublishedAt   string         `json:"published_at"`
	UpdatedAt     string         `json:"updated_at"`
	Signals       []string       `json:"signals"`
	ActionItems   []string       `json:"action_items"`
	Summary       string         `json:"summary"`
	Risk          Risk           `json:"risk"`
	Provenance    Provenance     `json:"provenance"`
	SourcePayload map[string]any `json:"source_payload,omitempty"`
}

// Buckets holds the four ordered item lists of a feed.
type Buckets struct {
	New     []DeltaItem `json:"new"`
	Updated []DeltaItem `json:"updated"`
	Removed []DeltaItem `json:"removed"`
	Flagged []DeltaItem `json:"flagged"`
}

// Total returns the count of new+updated+removed (excludes flagged).
func (b Buckets) Total() int {
	return len(b.New) + len(b.Updated) + len(b.Removed)
}

func emptyBuckets() Buckets {
	return Buckets{New: []DeltaItem{}, Updated: []DeltaItem{}, Removed: []DeltaItem{}, Flagged: []DeltaItem{}}
}

// EmptyBuckets returns a Buckets value with all four lists initialized
// (never nil), matching the schema requirement that buckets are always
// structurally present.
func EmptyBuckets() Buckets { return emptyBuckets() }

// PerSourceStatus is the per-source entry inside a FeedDocument's sources map.
type PerSourceStatus struct {
	Changed    bool             `json:"changed"`
	Cursor     canonical.Cursor `json:"cursor"`
	PrevCursor canonical.Cursor `json:"prev_cursor"`
	TTLSec     int              `json:"ttl_sec"`
	Status     string           `json:"status"` // ok | disabled | error
	Error      *string          `json:"error"`
}

// FeedDocument is a per-source or global feed.
type FeedDocument struct {
	SchemaVersion   string                     `json:"schema_version"`
	GeneratedAt     string                     `json:"generated_at"`
	Cursor          canonical.Cursor           `json:"cursor"`
	PrevCursor      canonical.Cursor           `json:"prev_cursor"`
	Changed         bool                       `json:"changed"`
	TTLSec          int                        `json:"ttl_sec"`
	SourcesIncluded []string                   `json:"sources_included"`
	BatchNarrative  string                     `json:"batch_narrative"`
	Sources         map[string]PerSourceStatus `json:"sources"`
	Buckets         Buckets                    `json:"buckets"`
}

// FleetSourceState is one source's persisted state between cycles.
type FleetSourceState struct {
	LastHash      string           `json:"last_hash,omitempty"`
	LastCursor    canonical.Cursor `json:"last_cursor,omitempty"`
	LastSuccessAt string           `json:"last_success_at,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorAt   string           `json:"last_error_at,omitempty"`

	// ItemHashes is the optional per-item content-hash map enabling
	// new/updated/removed enrichment. Its absence never affects cursor
	// correctness.
	ItemHashes map[string]string `json:"item_hashes,omitempty"`
}

// FleetGlobalState is the "_global" entry of FleetState.
type FleetGlobalState struct {
	LastCursor canonical.Cursor `json:"last_cursor"`
	LastRunAt  string           `json:"last_run_at"`
}

// FleetState is the full persisted state document. On the wire it is a
// flat JSON object: one key per source name plus a "_global" key, not a
// nested "sources" map.
type FleetState struct {
	Sources map[string]FleetSourceState
	Global  FleetGlobalState
}

const globalStateKey = "_global"

func (f FleetState) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(f.Sources)+1)
	for name, s := range f.Sources {
		flat[name] = s
	}
	flat[globalStateKey] = f.Global
	return json.Marshal(flat)
}

func (f *FleetState) UnmarshalJSON(b []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(b, &flat); err != nil {
		return err
	}
	f.Sources = make(map[string]FleetSourceState, len(flat))
	for name, raw := range flat {
		if name == globalStateKey {
			if err := json.Unmarshal(raw, &f.Global); err != nil {
				return err
			}
			continue
		}
		var s FleetSourceState
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		f.Sources[name] = s
	}
	return nil
}

// SchemaVersion is the schema_version stamped on every emitted document.
const SchemaVersion = "1.0.0"
