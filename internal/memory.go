package internal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidID = errors.New("invalid memory id")

var idPattern = regexp.MustCompile(`^[^\s\x00-\x1f]+$`)

// ID is the stable identifier a source registry assigns to a memory.
type ID string

func NewID(s string) (ID, error) {
	if s == "" || !idPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}

// Kind is the closed set of content kinds the engine knows how to embed.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindImage
	KindCode
	KindDocument
	KindGeneric
)

var kindNames = map[Kind]string{
	KindUnknown:  "unknown",
	KindImage:    "image",
	KindCode:     "code",
	KindDocument: "document",
	KindGeneric:  "generic",
}

// Kinds lists every embeddable kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindImage, KindCode, KindDocument, KindGeneric}
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if k != KindUnknown && strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	return k >= KindImage && k <= KindGeneric
}

// Dimension is the fixed vector length every model version of the kind must produce.
func (k Kind) Dimension() int {
	switch k {
	case KindImage:
		return 512
	case KindCode:
		return 768
	case KindDocument:
		return 1024
	case KindGeneric:
		return 512
	default:
		return 0
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ContentRef is an opaque handle to a memory's content. Only a ContentReader interprets it.
type ContentRef string

type Memory struct {
	ID       ID
	Kind     Kind
	Language string // code only
	MimeType string
	Ref      ContentRef

	// Embedding is a cached copy; VectorIndex stays authoritative.
	Embedding *Embedding
}

func NewMemory(id ID, kind Kind, ref ContentRef) *Memory {
	return &Memory{
		ID:   id,
		Kind: kind,
		Ref:  ref,
	}
}

// Embedded reports whether the memory carries a cached embedding at all.
func (m *Memory) Embedded() bool {
	return m.Embedding != nil
}

// NeedsEmbedding reports whether the cached embedding is missing or stale for ns.
func (m *Memory) NeedsEmbedding(ns Namespace) bool {
	if m.Embedding == nil {
		return true
	}
	if m.Embedding.Namespace != ns {
		return true
	}
	return len(m.Embedding.Vector) != ns.Dimension()
}

// ContentReader resolves a ContentRef to raw bytes.
type ContentReader interface {
	Read(ctx context.Context, ref ContentRef) ([]byte, error)
}
