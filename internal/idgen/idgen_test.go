package idgen

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	id := New()
	if len(id) != 36 {
		t.Fatalf("expected 36 chars, got %d: %s", len(id), id)
	}
	if strings.Count(id, "-") != 4 {
		t.Fatalf("expected 4 dashes, got %s", id)
	}
	if id == New() {
		t.Fatal("two IDs should not collide")
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("op_")
	if !strings.HasPrefix(id, "op_") {
		t.Fatalf("expected op_ prefix, got %s", id)
	}
	if len(id) != 3+24 {
		t.Fatalf("expected prefix plus 24 hex chars, got %d: %s", len(id), id)
	}
}

func TestHex(t *testing.T) {
	if got := Hex(16); len(got) != 32 {
		t.Fatalf("expected 32 hex chars for 16 bytes, got %d", len(got))
	}
}
