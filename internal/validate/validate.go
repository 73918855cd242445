// Package validate self-checks every document the engine is about to
// publish against a fixed embedded JSON Schema. A failure here is an
// invariant violation: the cycle must abort rather than publish a
// malformed feed.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	pkgerrors "github.com/deltafeed/engine/pkg/errors"
)

const cursorPattern = `^sha256:[0-9a-f]{64}$`

var (
	feedResolved        = mustResolve(feedSchema())
	knownIssuesResolved = mustResolve(knownIssuesSchema())
)

// Feed validates a FeedDocument (passed as any JSON-marshalable value)
// against the feed schema.
func Feed(doc any) error {
	return check(feedResolved, doc)
}

// KnownIssues validates a known-issues document against its schema.
func KnownIssues(doc any) error {
	return check(knownIssuesResolved, doc)
}

// check round-trips doc through encoding/json so validation always sees
// the exact generic shape that will land on disk, then validates it.
func check(rs *jsonschema.Resolved, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return pkgerrors.New(pkgerrors.InvariantSchemaViolation, fmt.Sprintf("marshal for validation: %v", err), nil).AsError()
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return pkgerrors.New(pkgerrors.InvariantSchemaViolation, fmt.Sprintf("decode for validation: %v", err), nil).AsError()
	}
	if err := rs.Validate(generic); err != nil {
		return pkgerrors.New(pkgerrors.InvariantSchemaViolation, err.Error(), nil).AsError()
	}
	return nil
}

func deltaItemSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Required: []string{
			"source", "id", "published_at", "updated_at",
			"signals", "action_items", "summary", "risk", "provenance",
		},
		Properties: map[string]*jsonschema.Schema{
			"source":       {Type: "string", MinLength: intPtr(1)},
			"id":           {Type: "string", MinLength: intPtr(1)},
			"url":          {Type: "string"},
			"title":        {Type: "string"},
			"published_at": {Type: "string", MinLength: intPtr(1)},
			"updated_at":   {Type: "string", MinLength: intPtr(1)},
			"signals":      {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"action_items": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"summary":      {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(1200)},
			"risk": {
				Type:     "object",
				Required: []string{"score", "reasons"},
				Properties: map[string]*jsonschema.Schema{
					"score": {Type: "number", Minimum: floatPtr(0), Maximum: floatPtr(1)},
					"reasons": {
						Type:     "array",
						Items:    &jsonschema.Schema{Type: "string"},
						MaxItems: intPtr(10),
					},
				},
			},
			"provenance": {
				Type:     "object",
				Required: []string{"fetched_at", "evidence_urls", "content_hash"},
				Properties: map[string]*jsonschema.Schema{
					"fetched_at":    {Type: "string", MinLength: intPtr(1)},
					"evidence_urls": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
					"content_hash":  {Type: "string", Pattern: "^[0-9a-f]{64}$"},
				},
			},
			"source_payload": {Type: "object"},
		},
	}
}

func bucketSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: deltaItemSchema()}
}

func feedSchema() *jsonschema.Schema {

	perSourceStatus := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"changed", "cursor", "prev_cursor", "ttl_sec", "status"},
		Properties: map[string]*jsonschema.Schema{
			"changed":     {Type: "boolean"},
			"cursor":      {Type: "string", Pattern: cursorPattern},
			"prev_cursor": {Type: "string", Pattern: cursorPattern},
			"ttl_sec":     {Type: "integer", Minimum: floatPtr(1)},
			"status":      {Enum: []any{"ok", "disabled", "error"}},
			"error":       {Types: []string{"string", "null"}},
		},
	}

	return &jsonschema.Schema{
		Type: "object",
		Required: []string{
			"schema_version", "generated_at", "cursor", "prev_cursor", "changed",
			"ttl_sec", "sources_included", "batch_narrative", "sources", "buckets",
		},
		Properties: map[string]*jsonschema.Schema{
			"schema_version":   {Type: "string", MinLength: intPtr(1)},
			"generated_at":     {Type: "string", MinLength: intPtr(1)},
			"cursor":           {Type: "string", Pattern: cursorPattern},
			"prev_cursor":      {Type: "string", Pattern: cursorPattern},
			"changed":          {Type: "boolean"},
			"ttl_sec":          {Type: "integer", Minimum: floatPtr(1)},
			"sources_included": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"batch_narrative":  {Type: "string", MinLength: intPtr(1)},
			"sources": {
				Type:                 "object",
				AdditionalProperties: perSourceStatus,
			},
			"buckets": {
				Type:     "object",
				Required: []string{"new", "updated", "removed", "flagged"},
				Properties: map[string]*jsonschema.Schema{
					"new":     bucketSchema(),
					"updated": bucketSchema(),
					"removed": bucketSchema(),
					"flagged": bucketSchema(),
				},
			},
		},
	}
}

func knownIssuesSchema() *jsonschema.Schema {
	issue := &jsonschema.Schema{
		Type: "object",
		Required: []string{
			"issue_key", "status", "severity", "scope", "summary", "details",
			"first_seen_at", "last_updated_at", "signals", "sources", "workarounds",
		},
		Properties: map[string]*jsonschema.Schema{
			"issue_key": {Type: "string", MinLength: intPtr(1)},
			"status":    {Enum: []any{"active", "resolved"}},
			"severity":  {Enum: []any{"info", "warning", "error"}},
			"scope": {
				Type:     "object",
				Required: []string{"level", "ref"},
				Properties: map[string]*jsonschema.Schema{
					"level": {Enum: []any{"source", "engine"}},
					"ref":   {Type: "string"},
				},
			},
			"summary":         {Type: "string", MinLength: intPtr(1)},
			"details":         {Type: "string"},
			"first_seen_at":   {Type: "string", MinLength: intPtr(1)},
			"last_updated_at": {Type: "string", MinLength: intPtr(1)},
			"signals":         {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"sources":         {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"workarounds":     {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	}
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"schema_version", "generated_at", "issues"},
		Properties: map[string]*jsonschema.Schema{
			"schema_version": {Type: "string", MinLength: intPtr(1)},
			"generated_at":   {Type: "string", MinLength: intPtr(1)},
			"issues":         {Type: "array", Items: issue},
		},
	}
}

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	rs, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("validate: embedded schema failed to resolve: %v", err))
	}
	return rs
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
