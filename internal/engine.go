package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/log"
)

// Engine groups the components a Config describes. The CLI and the v1 client
// both drive the engine through it.
type Engine struct {
	Config   *Config
	Logger   *log.Logger
	Registry *ModelRegistry
	Index    *VectorIndex
	Embedder *Embedder
	Indexer  *Indexer
	Search   *SearchService
}

type engineOptions struct {
	logger      *log.Logger
	reader      ContentReader
	inMemory    bool
	registryOps []RegistryOption
}

type EngineOption func(*engineOptions)

func WithEngineLogger(l *log.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// WithContentReader replaces the default reader, which resolves refs as local paths.
func WithContentReader(r ContentReader) EngineOption {
	return func(o *engineOptions) { o.reader = r }
}

// WithInMemoryIndex skips the SQLite store; nothing survives Close.
func WithInMemoryIndex() EngineOption {
	return func(o *engineOptions) { o.inMemory = true }
}

func WithRegistryOptions(opts ...RegistryOption) EngineOption {
	return func(o *engineOptions) { o.registryOps = append(o.registryOps, opts...) }
}

func OpenEngine(ctx context.Context, cfg *Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(os.Stderr, cfg.Log.Level); err != nil {
			return nil, err
		}
	}

	models, err := cfg.ModelsByKind()
	if err != nil {
		return nil, err
	}
	metric, err := ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}

	remote, err := NewRemoteSupplier(cfg.Inference.Remote)
	if err != nil {
		return nil, err
	}
	regOpts := []RegistryOption{WithRegistryLogger(logger.WithPrefix("registry"))}
	if remote != nil {
		regOpts = append(regOpts, WithRemoteSupplier(remote))
	}
	registry := NewModelRegistry(cfg.Inference, models, append(regOpts, o.registryOps...)...)

	var store IndexStore
	if !o.inMemory {
		if store, err = OpenSQLiteStore(ctx, cfg.Index.Path); err != nil {
			_ = registry.Close()
			return nil, err
		}
	}

	index, err := NewVectorIndex(ctx, store,
		WithMetric(metric),
		WithANN(cfg.Index.ANNTrees, cfg.Index.ANNMinSize),
		WithIndexLogger(logger.WithPrefix("index")),
	)
	if err != nil {
		_ = registry.Close()
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	reader := o.reader
	if reader == nil {
		reader = NewOSContentReader("/")
	}

	embedder := NewEmbedder(registry, reader,
		WithConcurrency(cfg.Batch.Concurrency),
		WithEmbedderLogger(logger.WithPrefix("embed")),
	)

	return &Engine{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Index:    index,
		Embedder: embedder,
		Indexer:  NewIndexer(embedder, index, registry, logger.WithPrefix("indexer")),
		Search:   NewSearchService(embedder, index, logger.WithPrefix("search")),
	}, nil
}

// Status is a point-in-time view of what the index holds.
type Status struct {
	Namespaces []NamespaceStatus
}

type NamespaceStatus struct {
	Namespace Namespace
	Entries   int
	// Current is false when the kind now embeds into a different model version.
	Current bool
	// Corrupt is set for namespaces skipped at load; they are neither searched nor written.
	Corrupt error
}

// Status reads configured versions without loading any model.
func (e *Engine) Status(_ context.Context) Status {
	var st Status
	for _, ns := range e.Index.Namespaces() {
		version, err := e.Registry.Version(ns.Kind)
		st.Namespaces = append(st.Namespaces, NamespaceStatus{
			Namespace: ns,
			Entries:   e.Index.Len(ns),
			Current:   err == nil && version == ns.Version,
		})
	}

	corrupt := e.Index.Corrupt()
	bad := make([]Namespace, 0, len(corrupt))
	for ns := range corrupt {
		bad = append(bad, ns)
	}
	sort.Slice(bad, func(i, j int) bool { return bad[i].String() < bad[j].String() })
	for _, ns := range bad {
		st.Namespaces = append(st.Namespaces, NamespaceStatus{Namespace: ns, Corrupt: corrupt[ns]})
	}

	return st
}

func (e *Engine) Close() error {
	var errs []error
	if err := e.Registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.Index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	return errors.Join(errs...)
}
