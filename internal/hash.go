package internal

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

var _ TextBackend = (*HashBackend)(nil)

// HashBackend embeds text with signed feature hashing over unigrams and bigrams.
// It needs no model weights, which makes it the offline and test backend.
type HashBackend struct {
	dimension int
	version   string
}

func NewHashBackend(dimension int, version string) *HashBackend {
	return &HashBackend{dimension: dimension, version: version}
}

func newHashBackend(_ context.Context, kind Kind, mc ModelConfig, _ InferenceConfig) (Backend, error) {
	return NewHashBackend(kind.Dimension(), mc.Version), nil
}

func (h *HashBackend) Embed(ctx context.Context, c Content) ([]float32, error) {
	return h.EmbedText(ctx, contentText(c))
}

func (h *HashBackend) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dimension)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	return l2Normalize(vec), nil
}

func (h *HashBackend) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(h.version))
	f.Write([]byte{0})
	f.Write([]byte(feature))
	sum := f.Sum64()

	idx := int(sum % uint64(h.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (h *HashBackend) Dimension() int {
	return h.dimension
}

func (h *HashBackend) Version() string {
	return h.version
}

func (h *HashBackend) Close() error {
	return nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
