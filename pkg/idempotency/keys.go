// Package idempotency builds deterministic, versioned keys from ordered
// parts. The engine uses it to fingerprint the known-issues set (a
// timestamp-free projection of the issues) so that two cycles observing
// the same failures produce the same key without having to agree on
// string formatting.
package idempotency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/deltafeed/engine/pkg/canonical"
)

const (
	// KeyVersion is the key format version. Bump it if the encoding changes
	// in a way that would otherwise silently rewrite existing issue keys.
	KeyVersion = "v1"

	MaxScopeLen = 64
	MaxKeyLen   = 256
)

var (
	ErrInvalidScope = errors.New("idempotency: invalid scope")
	ErrInvalidKey   = errors.New("idempotency: invalid key")
)

// BuildKey returns "<version>:<scope>:<sha256 hex>" where the hash is over
// the canonical JSON encoding of parts. scope must be non-empty,
// [a-z0-9_-]+, and at most MaxScopeLen bytes.
func BuildKey(scope string, parts ...any) (string, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return "", err
	}
	hash, err := canonical.HashJSON(parts)
	if err != nil {
		return "", fmt.Errorf("idempotency: %w", err)
	}
	key := fmt.Sprintf("%s:%s:%s", KeyVersion, scope, hash)
	if len(key) > MaxKeyLen {
		return "", ErrInvalidKey
	}
	return key, nil
}

func normalizeScope(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > MaxScopeLen {
		return "", ErrInvalidScope
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return "", ErrInvalidScope
		}
	}
	return s, nil
}
