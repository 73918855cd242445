package idempotency

import (
	"strings"
	"testing"
)

func TestBuildKeyDeterministic(t *testing.T) {
	k1, err := BuildKey("known_issues_set", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	k2, err := BuildKey("known_issues_set", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatalf("keys differ: %s vs %s", k1, k2)
	}
	if !strings.HasPrefix(k1, KeyVersion+":known_issues_set:") {
		t.Fatalf("key shape: %s", k1)
	}
}

func TestBuildKeyDistinguishesParts(t *testing.T) {
	k1, _ := BuildKey("scope", "a")
	k2, _ := BuildKey("scope", "b")
	if k1 == k2 {
		t.Fatal("different parts collided")
	}
}

func TestBuildKeyScopeValidation(t *testing.T) {
	if _, err := BuildKey("", "x"); err == nil {
		t.Fatal("empty scope accepted")
	}
	if _, err := BuildKey("Bad Scope!", "x"); err == nil {
		t.Fatal("invalid scope accepted")
	}
	if _, err := BuildKey(strings.Repeat("a", 100), "x"); err == nil {
		t.Fatal("oversized scope accepted")
	}
}
