// Package canonical implements the one invariant every other component in
// this engine trusts: a deterministic byte encoding of JSON-compatible
// values, and a SHA-256 hash over that encoding.
//
// encoding/json already sorts map keys when marshaling a map, so the bulk
// of canonicalization is free; this package exists to pin the remaining
// decisions (number representation, NaN/Inf rejection, decode-then-reencode
// round-tripping of arbitrary input) in one place.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrNonFinite is returned when a value contains NaN or +/-Inf, which have
// no canonical JSON representation.
var ErrNonFinite = errors.New("canonical: NaN/Infinity has no canonical JSON representation")

// JSON returns the canonical JSON encoding of v: object keys sorted
// lexicographically at every level, no insignificant whitespace, UTF-8
// preserved. For semantically-equal inputs the output is byte-identical.
func JSON(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm); err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	// json.Encoder.Encode always appends a trailing newline; strip it so the
	// byte stream is exactly the encoded value.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns hex(SHA-256(b)).
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashJSON canonicalizes v and returns hex(SHA-256(canonical(v))).
func HashJSON(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return Hash(b), nil
}

// normalize walks v and rebuilds it using only types whose JSON encoding is
// already deterministic (maps keyed by string sort their keys; structs and
// slices preserve declaration/element order already). Float64 values are
// rejected if non-finite. Values that arrived via json.Unmarshal as
// map[string]any/[]any/json.Number pass through unchanged except for the
// finiteness check.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, json.Number:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, ErrNonFinite
		}
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			nv, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			nv, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		// Struct, named slice/map, pointer, etc: round-trip through
		// encoding/json using json.Number so large integers don't lose
		// precision, then normalize the decoded generic form.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("canonical: marshal %T: %w", v, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, fmt.Errorf("canonical: decode %T: %w", v, err)
		}
		return normalize(generic)
	}
}
