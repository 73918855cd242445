// Package feed assembles per-source and global FeedDocuments: cursor
// computation, change flagging, sources_included, and batch_narrative.
package feed

import (
	"sort"
	"time"

	"github.com/deltafeed/engine/internal/diff"
	"github.com/deltafeed/engine/internal/model"
	"github.com/deltafeed/engine/pkg/canonical"
)

// sourceCursorPayload is the canonical payload hashed into a per-source
// cursor. It deliberately excludes wall-clock timing: only the schema
// version, the source's name, and the cycle's item projections
// participate, so two cycles observing identical content always yield
// the same cursor regardless of when they ran.
type sourceCursorPayload struct {
	SchemaVersion   string            `json:"schema_version"`
	SourcesIncluded []string          `json:"sources_included"`
	Items           []diff.CursorItem `json:"items"`
}

// globalCursorPayload is the canonical payload hashed into the global
// cursor: per-source changed flags and cursors, never item content.
type globalCursorPayload struct {
	SchemaVersion   string                        `json:"schema_version"`
	SourcesIncluded []string                      `json:"sources_included"`
	Sources         map[string]globalCursorSource `json:"sources"`
}

type globalCursorSource struct {
	Changed bool   `json:"changed"`
	Cursor  string `json:"cursor"`
}

// SourceResult is one source's per-cycle outcome, ready to fold into a
// FeedDocument.
type SourceResult struct {
	Name       string
	Enabled    bool
	TTLSec     int
	Diff       diff.Result
	PrevCursor canonical.Cursor
	ErrMsg     string // non-empty when the fetch/diff failed this cycle
}

func (res SourceResult) status() (string, *string) {
	if res.ErrMsg != "" {
		e := res.ErrMsg
		return "error", &e
	}
	if !res.Enabled {
		return "disabled", nil
	}
	return "ok", nil
}

// BuildPerSource assembles the FeedDocument for one source. Disabled and
// error sources still get a schema-valid document with empty buckets,
// changed=false, and the previous cursor carried forward.
func BuildPerSource(res SourceResult, generatedAt time.Time) (model.FeedDocument, canonical.Cursor, error) {
	status, errPtr := res.status()

	buckets := res.Diff.Buckets
	if buckets.New == nil && buckets.Updated == nil && buckets.Removed == nil && buckets.Flagged == nil {
		buckets = model.EmptyBuckets()
	}

	prevCursor := canonical.OrZero(res.PrevCursor)
	cursor := prevCursor
	changed := status == "ok" && res.Diff.Changed
	if changed {
		c, err := newSourceCursor(res.Name, res.Diff.CursorItems)
		if err != nil {
			return model.FeedDocument{}, canonical.ZeroCursor, err
		}
		cursor = c
	}

	doc := model.FeedDocument{
		SchemaVersion:   model.SchemaVersion,
		GeneratedAt:     generatedAt.UTC().Format(time.RFC3339),
		Cursor:          cursor,
		PrevCursor:      prevCursor,
		Changed:         changed,
		TTLSec:          res.TTLSec,
		SourcesIncluded: []string{res.Name},
		BatchNarrative:  narrativeFor(res.Name, status, res.ErrMsg, changed, buckets),
		Sources: map[string]model.PerSourceStatus{
			res.Name: {
				Changed:    changed,
				Cursor:     cursor,
				PrevCursor: prevCursor,
				TTLSec:     res.TTLSec,
				Status:     status,
				Error:      errPtr,
			},
		},
		Buckets: buckets,
	}
	return doc, cursor, nil
}

// BuildGlobal assembles the aggregate feed document across every source
// processed this cycle.
func BuildGlobal(results []SourceResult, perSourceCursors map[string]canonical.Cursor, prevGlobalCursor canonical.Cursor, generatedAt time.Time, defaultTTL int) (model.FeedDocument, canonical.Cursor, error) {
	agg := model.EmptyBuckets()
	anyChanged := false
	names := make([]string, 0, len(results))
	sources := make(map[string]model.PerSourceStatus, len(results))
	minTTL := 0

	for _, res := range results {
		names = append(names, res.Name)
		status, errPtr := res.status()
		changed := status == "ok" && res.Diff.Changed
		if changed {
			anyChanged = true
			agg.New = append(agg.New, res.Diff.Buckets.New...)
			agg.Updated = append(agg.Updated, res.Diff.Buckets.Updated...)
			agg.Removed = append(agg.Removed, res.Diff.Buckets.Removed...)
		}
		agg.Flagged = append(agg.Flagged, res.Diff.Buckets.Flagged...)

		sources[res.Name] = model.PerSourceStatus{
			Changed:    changed,
			Cursor:     canonical.OrZero(perSourceCursors[res.Name]),
			PrevCursor: canonical.OrZero(res.PrevCursor),
			TTLSec:     res.TTLSec,
			Status:     status,
			Error:      errPtr,
		}
		if res.TTLSec > 0 && (minTTL == 0 || res.TTLSec < minTTL) {
			minTTL = res.TTLSec
		}
	}
	if minTTL == 0 {
		minTTL = defaultTTL
	}
	sort.Strings(names)

	prevGlobal := canonical.OrZero(prevGlobalCursor)
	globalCursor := prevGlobal
	if anyChanged {
		c, err := newGlobalCursor(names, sources)
		if err != nil {
			return model.FeedDocument{}, canonical.ZeroCursor, err
		}
		globalCursor = c
	}

	doc := model.FeedDocument{
		SchemaVersion:   model.SchemaVersion,
		GeneratedAt:     generatedAt.UTC().Format(time.RFC3339),
		Cursor:          globalCursor,
		PrevCursor:      prevGlobal,
		Changed:         anyChanged,
		TTLSec:          minTTL,
		SourcesIncluded: names,
		BatchNarrative:  BatchNarrative("global", anyChanged, agg),
		Sources:         sources,
		Buckets:         agg,
	}
	return doc, globalCursor, nil
}

func newSourceCursor(source string, items []diff.CursorItem) (canonical.Cursor, error) {
	if items == nil {
		items = []diff.CursorItem{}
	}
	return canonical.NewCursor(sourceCursorPayload{
		SchemaVersion:   model.SchemaVersion,
		SourcesIncluded: []string{source},
		Items:           items,
	})
}

func newGlobalCursor(sortedNames []string, sources map[string]model.PerSourceStatus) (canonical.Cursor, error) {
	entries := make(map[string]globalCursorSource, len(sources))
	for _, name := range sortedNames {
		s := sources[name]
		entries[name] = globalCursorSource{Changed: s.Changed, Cursor: string(s.Cursor)}
	}
	return canonical.NewCursor(globalCursorPayload{
		SchemaVersion:   model.SchemaVersion,
		SourcesIncluded: sortedNames,
		Sources:         entries,
	})
}

// narrativeFor wraps BatchNarrative with the error-status variant: a
// failed source's feed reads "Error" instead of "No changes detected".
func narrativeFor(scope, status, errMsg string, changed bool, buckets model.Buckets) string {
	if status == "error" {
		n := scope + ": Error fetching upstream"
		if errMsg != "" {
			n += " (" + errMsg + ")"
		}
		return truncateWords(n+".", 30)
	}
	return BatchNarrative(scope, changed, buckets)
}
