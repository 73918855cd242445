// Package errors carries the engine's error taxonomy: a small set of
// stable codes, each with metadata (retryable, kind, description), plus a
// bounded envelope type for surfacing a failure in known-issues and
// telemetry documents. The taxonomy covers the four kinds the engine
// actually produces: configuration, transport, decode, and invariant
// violations.
package errors

import "sort"

// Code is a stable error code. Once published, treat as API-stable.
type Code string

// CodeMeta provides metadata for retry decisions and known-issues severity.
type CodeMeta struct {
	Retryable   bool   `json:"retryable"`
	Kind        string `json:"kind"` // configuration|transport|decode|invariant
	Description string `json:"description"`
}

const (
	// Configuration: fatal to the affected source; the cycle continues.
	ConfigMissingAdapter Code = "config.missing_adapter"
	ConfigMissingPath    Code = "config.missing_latest_path"
	ConfigUnknownAdapter Code = "config.unknown_adapter"
	ConfigFileMissing    Code = "config.file_missing"
	ConfigInvalid        Code = "config.invalid"

	// Transport: connection refused, DNS failure, timeout, non-2xx.
	TransportHTTPStatus Code = "transport.http_status"
	TransportFailed     Code = "transport.failed"

	// Decode: malformed JSON/XML/HTML.
	DecodeFailed Code = "decode.failed"

	// Invariant violation: programmer error, fatal to the cycle.
	InvariantCursorInstable  Code = "invariant.cursor_instable"
	InvariantBucketMissing   Code = "invariant.bucket_missing"
	InvariantSchemaViolation Code = "invariant.schema_violation"
)

var registry = map[Code]CodeMeta{
	ConfigMissingAdapter: {Retryable: false, Kind: "configuration", Description: "source has no adapter configured"},
	ConfigMissingPath:    {Retryable: false, Kind: "configuration", Description: "enabled source has no paths.latest"},
	ConfigUnknownAdapter: {Retryable: false, Kind: "configuration", Description: "adapter tag not recognized"},
	ConfigFileMissing:    {Retryable: false, Kind: "configuration", Description: "sources config file not found"},
	ConfigInvalid:        {Retryable: false, Kind: "configuration", Description: "sources config failed to parse"},

	TransportHTTPStatus: {Retryable: true, Kind: "transport", Description: "upstream returned non-2xx status"},
	TransportFailed:     {Retryable: true, Kind: "transport", Description: "upstream request failed"},

	DecodeFailed: {Retryable: false, Kind: "decode", Description: "upstream body failed to parse"},

	InvariantCursorInstable:  {Retryable: false, Kind: "invariant", Description: "changed=false but cursor != prev_cursor"},
	InvariantBucketMissing:   {Retryable: false, Kind: "invariant", Description: "feed document missing a required bucket"},
	InvariantSchemaViolation: {Retryable: false, Kind: "invariant", Description: "emitted document failed schema validation"},
}

// Meta returns metadata for a code.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}

// Retryable reports whether code is known and marked retryable.
func Retryable(code Code) bool {
	m, ok := registry[code]
	return ok && m.Retryable
}

// List returns all known codes sorted.
func List() []Code {
	out := make([]Code, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
