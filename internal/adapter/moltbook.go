package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deltafeed/engine/internal/model"
)

// MoltbookAdapter is the json adapter pinned to the two response shapes
// legacy Moltbook sources actually serve: a bare array of posts, or a
// {"posts": [...]} envelope. Anything else is a decode failure; the
// generic envelope-key detection of JSONAdapter does not apply here.
type MoltbookAdapter struct {
	*JSONAdapter
}

func NewMoltbookAdapter(base Base, cfg JSONConfig) *MoltbookAdapter {
	return &MoltbookAdapter{JSONAdapter: NewJSONAdapter(base, cfg)}
}

func (a *MoltbookAdapter) Fetch(ctx context.Context) ([]RawItem, int, string) {
	res := httpFetch(ctx, a.cfg.URL, fetchOptions{
		timeout: a.cfg.Timeout, allowPrivate: a.cfg.AllowPrivate, bearerToken: a.cfg.BearerToken,
	})
	if res.errMsg != "" {
		return nil, res.httpStatus, res.errMsg
	}
	items, err := extractMoltbookPosts(res.body)
	if err != nil {
		return nil, res.httpStatus, "decode failed: " + err.Error()
	}
	return a.Truncate(items), res.httpStatus, ""
}

// extractMoltbookPosts accepts a bare JSON array or a {"posts": [...]}
// envelope, nothing else.
func extractMoltbookPosts(body []byte) ([]RawItem, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if m, ok := doc.(map[string]any); ok {
		doc = m["posts"]
	}
	arr, ok := doc.([]any)
	if !ok {
		return nil, errNotMoltbook
	}
	return rawItemsOf(arr), nil
}

func (a *MoltbookAdapter) Normalize(raw RawItem, fetchedAt time.Time) model.NormalizedItem {
	return a.JSONAdapter.Normalize(flattenContainers(raw), fetchedAt)
}

// flattenContainers collapses the nested submolt/community and author
// objects Moltbook posts carry into stable scalars (submolt_id,
// submolt_name, author name). Container-level churn such as member
// counts or rotating metadata inside those objects must never register
// as an item change.
func flattenContainers(raw RawItem) RawItem {
	out := make(RawItem, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for _, key := range []string{"submolt", "community"} {
		obj, ok := out[key].(map[string]any)
		if !ok {
			continue
		}
		delete(out, key)
		if id := stringify(obj["id"]); id != "" {
			out["submolt_id"] = id
		}
		if name := stringify(obj["name"]); name != "" {
			out["submolt_name"] = name
		}
		break
	}
	if author, ok := out["author"].(map[string]any); ok {
		out["author"] = stringify(author["name"])
	}
	return out
}

func (a *MoltbookAdapter) SourceHash(items []model.NormalizedItem) (string, error) {
	return a.JSONAdapter.SourceHash(items)
}
