package internal

import (
	"errors"
	"testing"
)

func TestNewIDValid(t *testing.T) {
	valid := []string{
		"a",
		"src/main.go",
		"notes/2024-01-01.md",
		"9f0c6a1e-3b7d-4c5e-8f21-0a9b8c7d6e5f",
		"img:holiday.png",
	}

	for _, s := range valid {
		id, err := NewID(s)
		if err != nil {
			t.Errorf("NewID(%q) returned error: %v", s, err)
			continue
		}
		if id.String() != s {
			t.Errorf("expected id %q, got %q", s, id.String())
		}
	}
}

func TestNewIDInvalid(t *testing.T) {
	invalid := []string{
		"",
		"has space",
		"has\ttab",
		"has\nnewline",
		"nul\x00byte",
	}

	for _, s := range invalid {
		if _, err := NewID(s); !errors.Is(err, ErrInvalidID) {
			t.Errorf("NewID(%q) expected ErrInvalidID, got %v", s, err)
		}
	}
}

func TestKindDimensions(t *testing.T) {
	want := map[Kind]int{
		KindImage:    512,
		KindCode:     768,
		KindDocument: 1024,
		KindGeneric:  512,
		KindUnknown:  0,
	}
	for kind, dim := range want {
		if got := kind.Dimension(); got != dim {
			t.Errorf("%s: expected dimension %d, got %d", kind, dim, got)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, kind := range Kinds() {
		parsed, err := ParseKind(kind.String())
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", kind, err)
		}
		if parsed != kind {
			t.Errorf("expected %s, got %s", kind, parsed)
		}
	}

	if k, err := ParseKind("CODE"); err != nil || k != KindCode {
		t.Errorf("expected case-insensitive parse, got %s, %v", k, err)
	}

	for _, s := range []string{"", "unknown", "audio"} {
		_, err := ParseKind(s)
		if !errors.Is(err, ErrUnsupportedKind) {
			t.Errorf("ParseKind(%q) expected ErrUnsupportedKind, got %v", s, err)
		}
		if !errors.Is(err, ErrConfig) {
			t.Errorf("ParseKind(%q) expected error to be a config error", s)
		}
	}
}

func TestKindText(t *testing.T) {
	var k Kind
	if err := k.UnmarshalText([]byte("document")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if k != KindDocument {
		t.Errorf("expected document, got %s", k)
	}

	b, _ := KindImage.MarshalText()
	if string(b) != "image" {
		t.Errorf("expected 'image', got %q", b)
	}

	if Kind(42).String() != "kind(42)" {
		t.Errorf("unexpected name for out-of-range kind: %s", Kind(42))
	}
}

func TestMemoryNeedsEmbedding(t *testing.T) {
	ns := NewNamespace(KindGeneric, "v1")
	mem := NewMemory("m1", KindGeneric, "m1.txt")

	if mem.Embedded() {
		t.Error("new memory should carry no embedding")
	}
	if !mem.NeedsEmbedding(ns) {
		t.Error("memory without embedding should need one")
	}

	emb := NewEmbedding(make([]float32, ns.Dimension()), ns)
	mem.Embedding = &emb
	if mem.NeedsEmbedding(ns) {
		t.Error("memory embedded in ns should not need embedding")
	}

	if !mem.NeedsEmbedding(NewNamespace(KindGeneric, "v2")) {
		t.Error("new model version should make the embedding stale")
	}

	short := NewEmbedding(make([]float32, 3), ns)
	mem.Embedding = &short
	if !mem.NeedsEmbedding(ns) {
		t.Error("wrong-length embedding should be stale")
	}
}
