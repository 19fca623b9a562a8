package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// NamespaceResolver reports the namespace a kind currently embeds into. *ModelRegistry implements it.
type NamespaceResolver interface {
	Namespace(ctx context.Context, kind Kind) (Namespace, error)
}

// Report summarizes a batch: which memories are now searchable and which failed.
type Report struct {
	Indexed  []ID
	Failures []Failure
}

// Indexer keeps the index in step with a source of memories. Embedding always
// completes before the vector is inserted.
type Indexer struct {
	embedder *Embedder
	index    *VectorIndex
	spaces   NamespaceResolver
	logger   *log.Logger
}

func NewIndexer(embedder *Embedder, index *VectorIndex, spaces NamespaceResolver, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = discardLogger()
	}
	return &Indexer{
		embedder: embedder,
		index:    index,
		spaces:   spaces,
		logger:   logger,
	}
}

func (x *Indexer) Index(ctx context.Context, mem *Memory) error {
	if err := validMemory(mem); err != nil {
		return err
	}

	emb, err := x.embedder.EmbedMemory(ctx, mem)
	if err != nil {
		x.logger.Error("embed failed", "id", mem.ID, "err", err)
		return err
	}

	if err := x.index.Insert(ctx, mem.ID, emb.Vector, emb.Namespace); err != nil {
		x.logger.Error("insert failed", "id", mem.ID, "err", err)
		return err
	}

	x.logger.Debug("indexed", "id", mem.ID, "namespace", emb.Namespace)
	return nil
}

// IndexBatch embeds mems concurrently and inserts the successes in input order.
// The returned error is reserved for malformed input; per-memory problems land in
// the report.
func (x *Indexer) IndexBatch(ctx context.Context, mems []*Memory) (Report, error) {
	seen := make(map[ID]struct{}, len(mems))
	for _, mem := range mems {
		if err := validMemory(mem); err != nil {
			return Report{}, err
		}
		if _, dup := seen[mem.ID]; dup {
			return Report{}, fmt.Errorf("%w: %s appears twice in batch", ErrInvalidID, mem.ID)
		}
		seen[mem.ID] = struct{}{}
	}

	batch := x.embedder.EmbedBatch(ctx, mems)
	failed := make(map[ID]error, len(batch.Failures))
	for _, f := range batch.Failures {
		failed[f.ID] = f.Err
	}

	var report Report
	for _, mem := range mems {
		if err, ok := failed[mem.ID]; ok {
			report.Failures = append(report.Failures, Failure{ID: mem.ID, Err: err})
			continue
		}
		emb := batch.Embedded[mem.ID]
		if err := x.index.Insert(ctx, mem.ID, emb.Vector, emb.Namespace); err != nil {
			report.Failures = append(report.Failures, Failure{ID: mem.ID, Err: err})
			continue
		}
		report.Indexed = append(report.Indexed, mem.ID)
	}

	for _, f := range report.Failures {
		x.logger.Warn("memory not indexed", "id", f.ID, "err", f.Err)
	}
	x.logger.Info("batch indexed", "indexed", len(report.Indexed), "failed", len(report.Failures))

	return report, nil
}

func (x *Indexer) Remove(ctx context.Context, id ID) error {
	if err := x.index.Delete(ctx, id); err != nil {
		x.logger.Error("delete failed", "id", id, "err", err)
		return err
	}
	return nil
}

// Stale returns the memories whose cached embedding or indexed vector does not
// match the namespace their kind embeds into today.
func (x *Indexer) Stale(ctx context.Context, mems []*Memory) ([]*Memory, error) {
	var stale []*Memory
	for _, mem := range mems {
		if mem == nil {
			continue
		}
		ns, err := x.target(ctx, mem.Kind)
		if err != nil {
			return nil, err
		}
		entry, ok := x.index.Lookup(mem.ID)
		if !ok || entry.Namespace != ns {
			stale = append(stale, mem)
			continue
		}
		if mem.Embedded() && mem.NeedsEmbedding(ns) {
			stale = append(stale, mem)
		}
	}
	return stale, nil
}

func (x *Indexer) target(ctx context.Context, kind Kind) (Namespace, error) {
	if kind.Valid() {
		ns, err := x.spaces.Namespace(ctx, kind)
		if !errors.Is(err, ErrUnsupportedKind) {
			return ns, err
		}
	}
	return x.spaces.Namespace(ctx, KindGeneric)
}

func validMemory(mem *Memory) error {
	if mem == nil {
		return fmt.Errorf("%w: nil memory", ErrInvalidID)
	}
	if _, err := NewID(string(mem.ID)); err != nil {
		return err
	}
	return nil
}
