package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// BackendResolver hands out the backend serving a kind. *ModelRegistry implements it.
type BackendResolver interface {
	Resolve(ctx context.Context, kind Kind) (Backend, error)
}

// Embedder produces dimensionally correct embeddings for memories and queries.
type Embedder struct {
	backends    BackendResolver
	reader      ContentReader
	concurrency int
	logger      *log.Logger
}

type EmbedderOption func(*Embedder)

func WithConcurrency(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithEmbedderLogger(l *log.Logger) EmbedderOption {
	return func(e *Embedder) { e.logger = l }
}

func NewEmbedder(backends BackendResolver, reader ContentReader, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		backends:    backends,
		reader:      reader,
		concurrency: 4,
		logger:      discardLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// backendFor resolves kind, degrading to the generic backend for kinds nothing is configured for.
func (e *Embedder) backendFor(ctx context.Context, kind Kind) (Kind, Backend, error) {
	if kind.Valid() {
		b, err := e.backends.Resolve(ctx, kind)
		if err == nil {
			return kind, b, nil
		}
		if !errors.Is(err, ErrUnsupportedKind) {
			return kind, nil, err
		}
	}

	e.logger.Warn("no backend for kind, using generic", "kind", kind)
	b, err := e.backends.Resolve(ctx, KindGeneric)
	if err != nil {
		return KindGeneric, nil, err
	}
	return KindGeneric, b, nil
}

// EmbedMemory embeds mem's content with the backend for its kind. On success the
// embedding is cached on mem; on failure mem is left untouched.
func (e *Embedder) EmbedMemory(ctx context.Context, mem *Memory) (Embedding, error) {
	kind, b, err := e.backendFor(ctx, mem.Kind)
	if err != nil {
		return Embedding{}, err
	}
	ns := NewNamespace(kind, b.Version())

	data, err := e.reader.Read(ctx, mem.Ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Embedding{}, ctxErr
		}
		return Embedding{}, fmt.Errorf("%w: read content of %s: %w", ErrEmbedding, mem.ID, err)
	}

	vec, err := b.Embed(ctx, Content{
		Data:     data,
		Kind:     kind,
		Language: mem.Language,
		MimeType: mem.MimeType,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Embedding{}, ctxErr
		}
		return Embedding{}, fmt.Errorf("%w: %s via %s: %w", ErrEmbedding, mem.ID, ns, err)
	}

	emb, err := stage(vec, ns)
	if err != nil {
		return Embedding{}, fmt.Errorf("%s: %w", mem.ID, err)
	}

	cached := emb
	mem.Embedding = &cached
	return emb, nil
}

// EmbedQuery embeds free text in the space of target. Kinds whose backend has no
// text path, and KindUnknown, use the generic backend instead.
func (e *Embedder) EmbedQuery(ctx context.Context, text string, target Kind) (Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return Embedding{}, embeddingErrorf("empty query text")
	}

	kind, b, err := e.backendFor(ctx, target)
	if err != nil {
		return Embedding{}, err
	}

	tb, ok := b.(TextBackend)
	if !ok {
		kind = KindGeneric
		generic, err := e.backends.Resolve(ctx, KindGeneric)
		if err != nil {
			return Embedding{}, err
		}
		if tb, ok = generic.(TextBackend); !ok {
			return Embedding{}, fmt.Errorf("%w: generic backend %s cannot embed text", ErrConfig, generic.Version())
		}
	}
	ns := NewNamespace(kind, tb.Version())

	vec, err := tb.EmbedText(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Embedding{}, ctxErr
		}
		return Embedding{}, fmt.Errorf("%w: query via %s: %w", ErrEmbedding, ns, err)
	}

	return stage(vec, ns)
}

// stage copies vec so callers never share a buffer with the backend, and rejects
// outputs whose length disagrees with the namespace.
func stage(vec []float32, ns Namespace) (Embedding, error) {
	if len(vec) != ns.Dimension() {
		return Embedding{}, embeddingErrorf("%s produced %d floats, want %d", ns, len(vec), ns.Dimension())
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return NewEmbedding(out, ns), nil
}

type BatchResult struct {
	Embedded map[ID]Embedding
	Failures []Failure
}

// EmbedBatch embeds every memory independently. A failing memory is reported in
// Failures and never aborts the others.
func (e *Embedder) EmbedBatch(ctx context.Context, mems []*Memory) BatchResult {
	embs := make([]Embedding, len(mems))
	errs := make([]error, len(mems))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, mem := range mems {
		g.Go(func() error {
			embs[i], errs[i] = e.EmbedMemory(ctx, mem)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Embedded: make(map[ID]Embedding, len(mems))}
	for i, mem := range mems {
		if errs[i] != nil {
			res.Failures = append(res.Failures, Failure{ID: mem.ID, Err: errs[i]})
			continue
		}
		res.Embedded[mem.ID] = embs[i]
	}
	return res
}
