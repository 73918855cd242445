package canonical

import (
	"math"
	"strings"
	"testing"
)

func TestJSONSortsKeysAtEveryLevel(t *testing.T) {
	got, err := JSON(map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": nil},
	})
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	want := `{"a":{"y":null,"z":true},"b":1}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestJSONKeyPermutationStable(t *testing.T) {
	// Two semantically equal maps built in different insertion orders
	// must encode byte-identically.
	a := map[string]any{"title": "x", "content": "y", "url": "z"}
	b := map[string]any{}
	for _, k := range []string{"url", "content", "title"} {
		b[k] = a[k]
	}
	ea, err := JSON(a)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := JSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ea) != string(eb) {
		t.Fatalf("permuted maps encoded differently: %s vs %s", ea, eb)
	}
}

func TestJSONStructAndMapAgree(t *testing.T) {
	type proj struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	}
	es, err := JSON(proj{Title: "t", Content: "c", URL: "u"})
	if err != nil {
		t.Fatal(err)
	}
	em, err := JSON(map[string]any{"url": "u", "title": "t", "content": "c"})
	if err != nil {
		t.Fatal(err)
	}
	if string(es) != string(em) {
		t.Fatalf("struct vs map mismatch: %s vs %s", es, em)
	}
}

func TestJSONRejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := JSON(map[string]any{"x": v}); err == nil {
			t.Fatalf("expected error for %v", v)
		}
	}
}

func TestJSONNoHTMLEscaping(t *testing.T) {
	got, err := JSON(map[string]any{"u": "https://a/b?c=1&d=<e>"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(got), `\u0026`) || strings.Contains(string(got), `\u003c`) {
		t.Fatalf("html-escaped output: %s", got)
	}
	if !strings.Contains(string(got), "https://a/b?c=1&d=<e>") {
		t.Fatalf("url mangled: %s", got)
	}
}

func TestJSONPreservesUTF8(t *testing.T) {
	got, err := JSON(map[string]any{"t": "héllo — 世界"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "héllo — 世界") {
		t.Fatalf("non-ascii escaped: %s", got)
	}
}

func TestHashJSONDeterministic(t *testing.T) {
	h1, err := HashJSON(map[string]any{"a": 1, "b": []any{"x", "y"}})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashJSON(map[string]any{"b": []any{"x", "y"}, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("want 64 hex chars, got %d", len(h1))
	}
}

func TestHashChangesOnValueChange(t *testing.T) {
	h1, _ := HashJSON(map[string]any{"a": 1})
	h2, _ := HashJSON(map[string]any{"a": 2})
	if h1 == h2 {
		t.Fatal("distinct values hashed equal")
	}
}
