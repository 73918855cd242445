package canonical

import "strings"

// Cursor is an opaque "sha256:<hex>" token. Equal cursors imply equal
// content; cursors are compared only by string equality, never parsed.
type Cursor string

// ZeroCursor denotes "never observed".
var ZeroCursor = Cursor("sha256:" + strings.Repeat("0", 64))

// NewCursor computes "sha256:" + hex(SHA-256(canonical_json(payload))).
func NewCursor(payload any) (Cursor, error) {
	h, err := HashJSON(payload)
	if err != nil {
		return "", err
	}
	return Cursor("sha256:" + h), nil
}

// Equal compares two cursors by string equality.
func (c Cursor) Equal(other Cursor) bool {
	return string(c) == string(other)
}

// IsZero reports whether c is the "never observed" sentinel, treating an
// empty string the same as the zero sentinel (an absent prior cursor).
func (c Cursor) IsZero() bool {
	return c == "" || c == ZeroCursor
}

// OrZero returns c, or ZeroCursor if c is empty.
func OrZero(c Cursor) Cursor {
	if c.IsZero() {
		return ZeroCursor
	}
	return c
}

// Valid reports whether s has the "sha256:<64 hex>" shape.
func Valid(s string) bool {
	const prefix = "sha256:"
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	hexPart := s[len(prefix):]
	if len(hexPart) != 64 {
		return false
	}
	for _, r := range hexPart {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			continue
		}
		return false
	}
	return true
}
