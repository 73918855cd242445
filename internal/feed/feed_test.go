package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/deltafeed/engine/internal/diff"
	"github.com/deltafeed/engine/internal/model"
	"github.com/deltafeed/engine/pkg/canonical"
)

var genAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func changedResult(ids ...string) diff.Result {
	buckets := model.EmptyBuckets()
	items := make([]diff.CursorItem, 0, len(ids))
	for _, id := range ids {
		buckets.New = append(buckets.New, model.DeltaItem{
			Source: "src", ID: id, URL: "https://e/" + id, Title: strings.ToUpper(id),
			PublishedAt: "2026-03-01T10:00:00Z", UpdatedAt: "2026-03-01T10:00:00Z",
			Signals: []string{}, ActionItems: []string{}, Summary: "body " + id,
			Risk: model.Risk{Reasons: []string{}},
			Provenance: model.Provenance{
				FetchedAt: "2026-03-01T12:00:00Z", EvidenceURLs: []string{"https://e/" + id},
				ContentHash: strings.Repeat("a", 64),
			},
		})
		items = append(items, diff.CursorItem{
			ID: id, URL: "https://e/" + id, Title: strings.ToUpper(id), ContentHash: strings.Repeat("a", 64),
		})
	}
	return diff.Result{Changed: true, SourceHash: "h", Buckets: buckets, CursorItems: items}
}

func TestBuildPerSourceFirstCycle(t *testing.T) {
	res := SourceResult{
		Name: "rss_demo", Enabled: true, TTLSec: 600,
		Diff:       changedResult("a", "b"),
		PrevCursor: canonical.ZeroCursor,
	}
	doc, cursor, err := BuildPerSource(res, genAt)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Changed {
		t.Fatal("expected changed=true")
	}
	if doc.PrevCursor != canonical.ZeroCursor {
		t.Fatalf("prev cursor = %s", doc.PrevCursor)
	}
	if cursor == canonical.ZeroCursor || !canonical.Valid(string(cursor)) {
		t.Fatalf("bad cursor: %s", cursor)
	}
	if doc.Cursor != cursor {
		t.Fatal("returned cursor differs from document cursor")
	}
	if len(doc.SourcesIncluded) != 1 || doc.SourcesIncluded[0] != "rss_demo" {
		t.Fatalf("sources_included = %v", doc.SourcesIncluded)
	}
	st := doc.Sources["rss_demo"]
	if st.Status != "ok" || !st.Changed || st.Cursor != cursor {
		t.Fatalf("per-source status wrong: %+v", st)
	}
}

func TestCursorDeterministicAcrossRuns(t *testing.T) {
	res := SourceResult{
		Name: "s", Enabled: true, TTLSec: 60,
		Diff: changedResult("x", "y"), PrevCursor: canonical.ZeroCursor,
	}
	_, c1, err := BuildPerSource(res, genAt)
	if err != nil {
		t.Fatal(err)
	}
	_, c2, err := BuildPerSource(res, genAt.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatalf("cursor depends on wall clock: %s vs %s", c1, c2)
	}
}

func TestCursorChangesWithContent(t *testing.T) {
	base := SourceResult{Name: "s", Enabled: true, TTLSec: 60, PrevCursor: canonical.ZeroCursor}
	a := base
	a.Diff = changedResult("x")
	b := base
	b.Diff = changedResult("x", "y")
	_, ca, _ := BuildPerSource(a, genAt)
	_, cb, _ := BuildPerSource(b, genAt)
	if ca == cb {
		t.Fatal("different item sets produced the same cursor")
	}
}

func TestBuildPerSourceUnchangedPreservesCursor(t *testing.T) {
	prev := canonical.Cursor("sha256:" + strings.Repeat("b", 64))
	res := SourceResult{
		Name: "s", Enabled: true, TTLSec: 60,
		Diff:       diff.Result{Changed: false, Buckets: model.EmptyBuckets()},
		PrevCursor: prev,
	}
	doc, cursor, err := BuildPerSource(res, genAt)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Changed {
		t.Fatal("expected changed=false")
	}
	if cursor != prev || doc.Cursor != prev || doc.PrevCursor != prev {
		t.Fatalf("cursor not preserved: %s / %s", cursor, doc.PrevCursor)
	}
	if doc.BatchNarrative != "s: No changes detected." {
		t.Fatalf("narrative = %q", doc.BatchNarrative)
	}
}

func TestBuildPerSourceDisabled(t *testing.T) {
	res := SourceResult{
		Name: "off", Enabled: false, TTLSec: 3600,
		Diff: diff.Result{Changed: false, Buckets: model.EmptyBuckets()},
	}
	doc, cursor, err := BuildPerSource(res, genAt)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Changed || cursor != canonical.ZeroCursor {
		t.Fatalf("disabled doc changed=%v cursor=%s", doc.Changed, cursor)
	}
	if doc.Sources["off"].Status != "disabled" {
		t.Fatalf("status = %s", doc.Sources["off"].Status)
	}
}

func TestBuildPerSourceError(t *testing.T) {
	prev := canonical.Cursor("sha256:" + strings.Repeat("c", 64))
	res := SourceResult{
		Name: "bad", Enabled: true, TTLSec: 60,
		Diff:       diff.Result{Changed: false, Buckets: model.EmptyBuckets()},
		PrevCursor: prev,
		ErrMsg:     "HTTP 503",
	}
	doc, cursor, err := BuildPerSource(res, genAt)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Changed || cursor != prev {
		t.Fatal("error doc must preserve cursor and stay unchanged")
	}
	st := doc.Sources["bad"]
	if st.Status != "error" || st.Error == nil || *st.Error != "HTTP 503" {
		t.Fatalf("status wrong: %+v", st)
	}
	if !strings.Contains(doc.BatchNarrative, "Error") {
		t.Fatalf("narrative missing Error: %q", doc.BatchNarrative)
	}
}

func TestBuildGlobalMixedChange(t *testing.T) {
	prevGlobal := canonical.Cursor("sha256:" + strings.Repeat("d", 64))
	changed := SourceResult{
		Name: "b_changed", Enabled: true, TTLSec: 120,
		Diff: changedResult("n1"), PrevCursor: canonical.ZeroCursor,
	}
	_, changedCursor, err := BuildPerSource(changed, genAt)
	if err != nil {
		t.Fatal(err)
	}
	stablePrev := canonical.Cursor("sha256:" + strings.Repeat("e", 64))
	stable := SourceResult{
		Name: "a_stable", Enabled: true, TTLSec: 600,
		Diff:       diff.Result{Changed: false, Buckets: model.EmptyBuckets()},
		PrevCursor: stablePrev,
	}

	cursors := map[string]canonical.Cursor{
		"b_changed": changedCursor,
		"a_stable":  stablePrev,
	}
	doc, globalCursor, err := BuildGlobal([]SourceResult{changed, stable}, cursors, prevGlobal, genAt, 3600)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Changed {
		t.Fatal("global must be changed when any source changed")
	}
	if globalCursor == prevGlobal {
		t.Fatal("global cursor must advance on change")
	}
	if len(doc.SourcesIncluded) != 2 || doc.SourcesIncluded[0] != "a_stable" || doc.SourcesIncluded[1] != "b_changed" {
		t.Fatalf("sources_included not sorted: %v", doc.SourcesIncluded)
	}
	if !doc.Sources["b_changed"].Changed || doc.Sources["a_stable"].Changed {
		t.Fatalf("per-source changed flags wrong: %+v", doc.Sources)
	}
	if doc.Sources["a_stable"].Cursor != stablePrev {
		t.Fatal("unchanged source's cursor rewritten in global feed")
	}
	if len(doc.Buckets.New) != 1 {
		t.Fatalf("aggregate buckets wrong: %+v", doc.Buckets)
	}
	if doc.TTLSec != 120 {
		t.Fatalf("global ttl should be the minimum: %d", doc.TTLSec)
	}
}

func TestBuildGlobalNoChangePreservesCursor(t *testing.T) {
	prevGlobal := canonical.Cursor("sha256:" + strings.Repeat("f", 64))
	stable := SourceResult{
		Name: "s", Enabled: true, TTLSec: 60,
		Diff:       diff.Result{Changed: false, Buckets: model.EmptyBuckets()},
		PrevCursor: canonical.Cursor("sha256:" + strings.Repeat("e", 64)),
	}
	doc, cursor, err := BuildGlobal([]SourceResult{stable}, map[string]canonical.Cursor{"s": stable.PrevCursor}, prevGlobal, genAt, 3600)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Changed || cursor != prevGlobal {
		t.Fatalf("global cursor must be preserved: changed=%v cursor=%s", doc.Changed, cursor)
	}
}

func TestGlobalCursorDeterministic(t *testing.T) {
	changed := SourceResult{
		Name: "s", Enabled: true, TTLSec: 60,
		Diff: changedResult("x"), PrevCursor: canonical.ZeroCursor,
	}
	_, c, err := BuildPerSource(changed, genAt)
	if err != nil {
		t.Fatal(err)
	}
	cursors := map[string]canonical.Cursor{"s": c}
	_, g1, err := BuildGlobal([]SourceResult{changed}, cursors, canonical.ZeroCursor, genAt, 3600)
	if err != nil {
		t.Fatal(err)
	}
	_, g2, err := BuildGlobal([]SourceResult{changed}, cursors, canonical.ZeroCursor, genAt.Add(time.Minute), 3600)
	if err != nil {
		t.Fatal(err)
	}
	if g1 != g2 {
		t.Fatalf("global cursor depends on wall clock: %s vs %s", g1, g2)
	}
}
