package errors

import (
	"strings"
	"testing"
)

func TestMetaCoversEveryCode(t *testing.T) {
	for _, code := range List() {
		m, ok := Meta(code)
		if !ok {
			t.Errorf("code %s has no metadata", code)
		}
		if m.Kind == "" || m.Description == "" {
			t.Errorf("code %s has incomplete metadata: %+v", code, m)
		}
	}
}

func TestNewBoundsMessage(t *testing.T) {
	long := strings.Repeat("x", 2000)
	b := New(TransportFailed, long, nil)
	if len(b.Message) > MaxMessageLen {
		t.Fatalf("message not bounded: %d", len(b.Message))
	}
	if !b.Retryable {
		t.Fatal("transport errors are retryable")
	}
	if b.Kind != "transport" {
		t.Fatalf("kind = %s", b.Kind)
	}
}

func TestNewStripsControlCharacters(t *testing.T) {
	b := New(DecodeFailed, "bad\x00\x1fvalue", nil)
	if strings.ContainsAny(b.Message, "\x00\x1f") {
		t.Fatalf("control characters leaked: %q", b.Message)
	}
}

func TestNewSortsDetails(t *testing.T) {
	b := New(TransportHTTPStatus, "HTTP 503", map[string]any{
		"zeta": 1, "alpha": "x",
	})
	if len(b.Details) != 2 || b.Details[0].K != "alpha" || b.Details[1].K != "zeta" {
		t.Fatalf("details = %+v", b.Details)
	}
}

func TestNewUnknownCodeFallsBack(t *testing.T) {
	b := New(Code("made.up"), "msg", nil)
	if b.Kind != "invariant" {
		t.Fatalf("kind = %s", b.Kind)
	}
}

func TestAsError(t *testing.T) {
	err := New(ConfigUnknownAdapter, "nope", nil).AsError()
	if !strings.Contains(err.Error(), string(ConfigUnknownAdapter)) {
		t.Fatalf("error string = %q", err.Error())
	}
}
