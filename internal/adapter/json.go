package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deltafeed/engine/internal/model"
)

// JSONConfig is the config map shape for an "json"-adapter source.
type JSONConfig struct {
	URL          string
	ItemsPath    string // dotted path to the array of items; "" means best-effort envelope detection
	AllowPrivate bool
	Timeout      time.Duration
	BearerToken  string
}

// JSONAdapter fetches a JSON document and takes its item list from the
// array at ItemsPath when one is configured, otherwise from the shapes
// extractItemArray recognizes (top-level array, envelope object, or a
// bare object as a single item).
type JSONAdapter struct {
	Base
	cfg JSONConfig
}

func NewJSONAdapter(base Base, cfg JSONConfig) *JSONAdapter {
	return &JSONAdapter{Base: base, cfg: cfg}
}

func (a *JSONAdapter) Fetch(ctx context.Context) ([]RawItem, int, string) {
	res := httpFetch(ctx, a.cfg.URL, fetchOptions{
		timeout: a.cfg.Timeout, allowPrivate: a.cfg.AllowPrivate, bearerToken: a.cfg.BearerToken,
	})
	if res.errMsg != "" {
		return nil, res.httpStatus, res.errMsg
	}
	items, err := extractItemArray(res.body, a.cfg.ItemsPath)
	if err != nil {
		return nil, res.httpStatus, "decode failed: " + err.Error()
	}
	return a.Truncate(items), res.httpStatus, ""
}

func (a *JSONAdapter) Normalize(raw RawItem, fetchedAt time.Time) model.NormalizedItem {
	id := a.BestEffortID(raw)
	published, updated := a.BestEffortTimes(raw, fetchedAt)
	return model.NormalizedItem{
		Source:        a.SourceName,
		ID:            id,
		URL:           a.BestEffortURL(raw),
		Title:         a.Title(raw),
		PublishedAt:   published,
		UpdatedAt:     updated,
		Content:       firstNonEmptyContent(raw),
		SourcePayload: a.SourcePayload(raw),
	}
}

func (a *JSONAdapter) SourceHash(items []model.NormalizedItem) (string, error) {
	return hashItems(a.SourceName, items, a.MaxItems)
}

// envelopeKeys are the object keys tried, in order, when no items_path is
// configured and the response body is an object rather than an array.
var envelopeKeys = []string{"items", "releases", "data", "results", "posts"}

// extractItemArray decodes body as JSON and returns the array at path
// (dot-separated object keys). With an empty path it accepts a top-level
// array, an envelope object carrying the array under one of envelopeKeys,
// or a bare object treated as a single-item list.
func extractItemArray(body []byte, path string) ([]RawItem, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if path != "" {
		cur := doc
		for _, seg := range splitPath(path) {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, errNotObject
			}
			cur, ok = m[seg]
			if !ok {
				return nil, errPathMissing
			}
		}
		doc = cur
	} else if m, ok := doc.(map[string]any); ok {
		found := false
		for _, k := range envelopeKeys {
			if arr, ok := m[k].([]any); ok {
				doc = arr
				found = true
				break
			}
		}
		if !found {
			return []RawItem{RawItem(m)}, nil
		}
	}
	arr, ok := doc.([]any)
	if !ok {
		return nil, errNotArray
	}
	return rawItemsOf(arr), nil
}

// rawItemsOf keeps the object elements of a decoded JSON array,
// dropping scalars and nested arrays.
func rawItemsOf(arr []any) []RawItem {
	out := make([]RawItem, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			out = append(out, RawItem(m))
		}
	}
	return out
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

func firstNonEmptyContent(raw RawItem) string {
	for _, k := range []string{"body", "content", "description"} {
		if s := stringify(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

type pathError string

func (e pathError) Error() string { return string(e) }

const (
	errNotObject   pathError = "items_path segment is not an object"
	errPathMissing pathError = "items_path segment not found"
	errNotArray    pathError = "resolved value is not an array"
	errNotMoltbook pathError = "response is neither a posts envelope nor an array"
)
