package cel

import (
	"testing"
)

func TestPredicate_Match(t *testing.T) {
	p, err := NewPredicate(`access_count == 0 && age_seconds > 60.0`)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := p.Match("k", 0, 120, 120, 10)
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, _ = p.Match("k", 3, 120, 1, 10)
	if ok {
		t.Fatalf("accessed entry should not match")
	}
}

func TestPredicate_KeyFunctions(t *testing.T) {
	p, err := NewPredicate(`key.startsWith("graph:") && size_bytes > 100`)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := p.Match("graph:abc", 1, 0, 0, 500); !ok {
		t.Errorf("expected match")
	}
	if ok, _ := p.Match("node:abc", 1, 0, 0, 500); ok {
		t.Errorf("unexpected match")
	}
}

func TestNewPredicate_Rejects(t *testing.T) {
	if _, err := NewPredicate(""); err == nil {
		t.Errorf("empty expression should fail")
	}
	if _, err := NewPredicate(`access_count + 1`); err == nil {
		t.Errorf("non-bool expression should fail")
	}
	if _, err := NewPredicate(`unknown_var > 1`); err == nil {
		t.Errorf("undeclared variable should fail")
	}
}
