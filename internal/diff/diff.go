// Package diff implements the change-classification core: given the
// previous fleet state for a source and the items an adapter fetched
// this cycle, decide whether anything changed, and if so, classify each
// item into new/updated/removed/flagged. Buckets are disjoint: a
// quarantined item appears only in flagged, never elsewhere.
package diff

import (
	"sort"
	"time"

	"github.com/deltafeed/engine/internal/model"
	"github.com/deltafeed/engine/internal/risk"
	"github.com/deltafeed/engine/pkg/canonical"
)

// FetchOutcome is what the adapter layer reports for one source's fetch
// attempt this cycle.
type FetchOutcome struct {
	Items      []model.NormalizedItem
	SourceHash string
	HTTPStatus int
	Err        string // non-empty means the fetch failed outright
}

// CursorItem is the per-item projection folded into cursor payloads.
type CursorItem struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	ContentHash string `json:"content_hash"`
}

// Result is the outcome of diffing one source for one cycle.
type Result struct {
	Changed    bool
	SourceHash string
	Buckets    model.Buckets

	// CursorItems is every deduplicated cycle item projected to
	// {id, url, title, content_hash}, sorted by id: the items list of
	// the cursor payload. Empty on the no-change path, where the cursor
	// is carried over instead of recomputed.
	CursorItems []CursorItem

	// NextItemHashes is the item-hash map to persist for next cycle's
	// optional new/updated/removed enrichment. nil when this cycle did
	// not produce one (error path or no-change short circuit).
	NextItemHashes map[string]string
}

const maxSummaryCodePoints = 1200

// Process runs the no-change short circuit and, on change, classifies
// items into buckets. prevHash is the source's last_hash from fleet
// state ("" on first run). prevItemHashes is the optional per-item hash
// map from the previous cycle; pass nil to skip item-level enrichment
// and route every current item to new.
func Process(source string, outcome FetchOutcome, prevHash string, prevItemHashes map[string]string, fetchedAt time.Time) (Result, error) {
	if outcome.Err != "" {
		return Result{Changed: false, SourceHash: prevHash, Buckets: model.EmptyBuckets()}, nil
	}

	// An empty cycle against recorded prior state is treated as no
	// change with the cursor preserved, never as mass removal: partial
	// or empty fetches must not fabricate deletions.
	if len(outcome.Items) == 0 && prevHash != "" {
		return Result{Changed: false, SourceHash: prevHash, Buckets: model.EmptyBuckets()}, nil
	}

	if outcome.SourceHash == prevHash && prevHash != "" {
		return Result{Changed: false, SourceHash: outcome.SourceHash, Buckets: model.EmptyBuckets()}, nil
	}

	buckets := model.EmptyBuckets()
	nextHashes := map[string]string{}
	cursorItems := make([]CursorItem, 0, len(outcome.Items))
	seen := make(map[string]bool, len(outcome.Items))

	for _, item := range outcome.Items {
		if seen[item.ID] {
			// duplicate id within a cycle: keep the first occurrence.
			continue
		}
		seen[item.ID] = true

		contentHash, err := item.ContentHash()
		if err != nil {
			return Result{}, err
		}
		nextHashes[item.ID] = contentHash
		cursorItems = append(cursorItems, CursorItem{
			ID: item.ID, URL: item.URL, Title: item.Title, ContentHash: contentHash,
		})

		r := risk.Evaluate(item, risk.Outcome{TransportFailed: false})
		delta := toDeltaItem(item, r, contentHash, fetchedAt)

		if risk.Quarantined(r) {
			buckets.Flagged = append(buckets.Flagged, delta)
			continue
		}

		prevContentHash, existed := prevItemHashes[item.ID]
		switch {
		case prevItemHashes == nil, !existed:
			buckets.New = append(buckets.New, delta)
		case prevContentHash != contentHash:
			buckets.Updated = append(buckets.Updated, delta)
		default:
			// unchanged item: present in both cycles with the same content
			// hash. It contributes to SourceHash stability but not to any
			// bucket.
		}
	}

	if prevItemHashes != nil {
		missing := make([]string, 0)
		for id := range prevItemHashes {
			if !seen[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		for _, id := range missing {
			buckets.Removed = append(buckets.Removed, removedItem(source, id, prevItemHashes[id], fetchedAt))
		}
	}

	sortCursorItems(cursorItems)
	return Result{
		Changed:        true,
		SourceHash:     outcome.SourceHash,
		Buckets:        buckets,
		CursorItems:    cursorItems,
		NextItemHashes: nextHashes,
	}, nil
}

func toDeltaItem(item model.NormalizedItem, r model.Risk, contentHash string, fetchedAt time.Time) model.DeltaItem {
	var evidence []string
	if item.URL != "" {
		evidence = []string{item.URL}
	} else {
		evidence = []string{}
	}
	return model.DeltaItem{
		Source:      item.Source,
		ID:          item.ID,
		URL:         item.URL,
		Title:       item.Title,
		PublishedAt: item.PublishedAt,
		UpdatedAt:   item.UpdatedAt,
		Signals:     []string{},
		ActionItems: []string{},
		Summary:     summarize(item),
		Risk:        r,
		Provenance: model.Provenance{
			FetchedAt:    fetchedAt.UTC().Format(time.RFC3339),
			EvidenceURLs: evidence,
			ContentHash:  contentHash,
		},
		SourcePayload: item.SourcePayload,
	}
}

// removedItem reconstructs a minimal DeltaItem for an id that was present
// in the previous cycle but absent from this one. Only the last known
// content hash survives; there is no live content to carry.
func removedItem(source, id, lastHash string, fetchedAt time.Time) model.DeltaItem {
	now := fetchedAt.UTC().Format(time.RFC3339)
	return model.DeltaItem{
		Source:      source,
		ID:          id,
		PublishedAt: now,
		UpdatedAt:   now,
		Signals:     []string{"removed"},
		ActionItems: []string{},
		Summary:     "Item no longer present upstream.",
		Risk:        model.Risk{Score: 0, Reasons: []string{}},
		Provenance: model.Provenance{
			FetchedAt:    now,
			EvidenceURLs: []string{},
			ContentHash:  lastHash,
		},
	}
}

// summarize derives a non-empty, bounded summary from an item's content,
// falling back to the title and then to a fixed placeholder.
func summarize(item model.NormalizedItem) string {
	s := item.Content
	if s == "" {
		s = item.Title
	}
	if s == "" {
		s = "(no content)"
	}
	r := []rune(s)
	if len(r) > maxSummaryCodePoints {
		return string(r[:maxSummaryCodePoints])
	}
	return s
}

func sortCursorItems(items []CursorItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

// StabilityOK asserts the cursor stability invariant: changed=false must
// imply cursor == prevCursor. Callers treat a false return as an
// invariant violation, fatal to the cycle.
func StabilityOK(changed bool, cursor, prevCursor canonical.Cursor) bool {
	if changed {
		return true
	}
	return cursor.Equal(prevCursor)
}
