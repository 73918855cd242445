// Package adapter implements the pluggable fetch/normalize boundary
// between upstream publishers and the engine's canonical item shape: a
// small Base struct embedded by each concrete adapter and a
// capability-scoped interface rather than one god object.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/deltafeed/engine/internal/model"
	"github.com/deltafeed/engine/pkg/canonical"
)

// RawItem is an adapter-dependent mapping preserved verbatim for
// provenance; opaque to the engine except for the normalized projection
// each adapter extracts from it.
type RawItem map[string]any

// Adapter is the capability set every source kind implements.
type Adapter interface {
	// Fetch performs exactly one upstream request and returns raw items,
	// the transport status code (0 on network failure), and an error
	// message when the fetch failed. It never panics and never blocks
	// longer than the configured timeout.
	Fetch(ctx context.Context) (items []RawItem, httpStatus int, errMsg string)

	// Normalize is deterministic and does no I/O.
	Normalize(raw RawItem, fetchedAt time.Time) model.NormalizedItem

	// SourceHash is the canonical hash of the source's normalized item
	// projection: items sorted by id, fields {id, url, title, content}.
	SourceHash(items []model.NormalizedItem) (string, error)
}

// idCandidates / urlCandidates / publishedCandidates / updatedCandidates
// are the ordered key-precedence lists every adapter's best-effort
// extraction uses.
var (
	idCandidates        = []string{"id", "post_id", "postId", "guid", "tag_name", "name"}
	urlCandidates       = []string{"url", "html_url", "link"}
	publishedCandidates = []string{"published_at", "created_at", "published", "pubDate", "date"}
	updatedCandidates   = []string{"updated_at", "updated", "updated_parsed"}
)

// Base holds the fields and helpers shared by every adapter.
type Base struct {
	SourceName string
	MaxItems   int
}

// Truncate caps items to MaxItems. Every adapter's Fetch applies this
// before returning, so downstream stages never see more than the
// configured bound.
func (b Base) Truncate(items []RawItem) []RawItem {
	if b.MaxItems > 0 && len(items) > b.MaxItems {
		return items[:b.MaxItems]
	}
	return items
}

// BestEffortID extracts a stable item identity from raw, falling back to
// the low-128-bit truncation of SHA-256(url ‖ "\n" ‖ title).
func (b Base) BestEffortID(raw RawItem) string {
	for _, k := range idCandidates {
		if v, ok := raw[k]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	url := firstString(raw, urlCandidates)
	title := stringify(raw["title"])
	sum := sha256.Sum256([]byte(url + "\n" + title))
	return hex.EncodeToString(sum[:16])
}

// BestEffortURL extracts the canonical URL, or "" when the item carries
// none. A missing URL is never synthesized: it is a risk signal the
// evaluator must be able to see.
func (b Base) BestEffortURL(raw RawItem) string {
	return firstString(raw, urlCandidates)
}

// BestEffortTimes extracts (published_at, updated_at) as RFC 3339 UTC
// second-precision, Z-suffixed strings, substituting fetchedAt when a
// candidate is absent or fails to parse.
func (b Base) BestEffortTimes(raw RawItem, fetchedAt time.Time) (publishedAt, updatedAt string) {
	fallback := formatRFC3339(fetchedAt)

	published := firstString(raw, publishedCandidates)
	if t, ok := parseTime(published); ok {
		publishedAt = formatRFC3339(t)
	} else {
		publishedAt = fallback
	}

	updated := firstString(raw, updatedCandidates)
	if t, ok := parseTime(updated); ok {
		updatedAt = formatRFC3339(t)
		// updated_at may never precede published_at.
		if updatedAt < publishedAt {
			updatedAt = publishedAt
		}
	} else {
		updatedAt = publishedAt
	}
	return publishedAt, updatedAt
}

// Title extracts the raw title, bounded to 200 code points.
func (b Base) Title(raw RawItem) string {
	t := stringify(raw["title"])
	r := []rune(t)
	if len(r) > 200 {
		return string(r[:200])
	}
	return t
}

// SourcePayload returns the raw item's fields minus the ones already
// folded into NormalizedItem, for provenance preservation. Returns nil
// when nothing is left over.
func (b Base) SourcePayload(raw RawItem) map[string]any {
	excluded := map[string]bool{
		"id": true, "post_id": true, "postId": true, "guid": true, "tag_name": true, "name": true,
		"url": true, "html_url": true, "link": true,
		"title": true, "content": true, "description": true, "summary": true, "body": true,
		"published_at": true, "created_at": true, "published": true, "pubDate": true, "date": true,
		"updated_at": true, "updated": true, "updated_parsed": true, "published_parsed": true,
	}
	out := map[string]any{}
	for k, v := range raw {
		if !excluded[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// hashItems computes the SourceHash canonical payload: items sorted by id,
// projected to {id, url, title, content}.
func hashItems(source string, items []model.NormalizedItem, maxItems int) (string, error) {
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	type projection struct {
		ID      string `json:"id"`
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	projected := make([]projection, 0, len(items))
	for _, it := range items {
		projected = append(projected, projection{
			ID:      it.ID,
			URL:     it.URL,
			Title:   strings.TrimSpace(it.Title),
			Content: strings.TrimSpace(it.Content),
		})
	}
	sort.Slice(projected, func(i, j int) bool { return projected[i].ID < projected[j].ID })

	payload := struct {
		Source string       `json:"source"`
		Items  []projection `json:"items"`
	}{Source: source, Items: projected}
	return canonical.HashJSON(payload)
}

func firstString(raw RawItem, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return trimFloat(x)
	default:
		return ""
	}
}

// trimFloat renders a float64 the way json.Number round-tripping would:
// integral values without a trailing ".0".
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatRFC3339(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
