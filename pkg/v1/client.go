package v1

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/4thel00z/memories/internal"
)

// Client provides programmatic access to the embedding index.
type Client struct {
	engine *internal.Engine
}

// New creates a new Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	path := cfg.configPath
	if path == "" {
		path = internal.DefaultConfigPath()
	}
	engineCfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if cfg.modelDir != "" {
		engineCfg.Inference.ModelDirectory = cfg.modelDir
	}
	if cfg.indexPath != "" {
		engineCfg.Index.Path = cfg.indexPath
	}
	if cfg.logLevel != "" {
		engineCfg.Log.Level = cfg.logLevel
	}
	if cfg.localOnly != nil {
		engineCfg.Inference.UseLocalInference = *cfg.localOnly
	}

	var engineOpts []internal.EngineOption
	if cfg.inMemory {
		engineOpts = append(engineOpts, internal.WithInMemoryIndex())
	}

	eng, err := internal.OpenEngine(context.Background(), engineCfg, engineOpts...)
	if err != nil {
		return nil, err
	}

	return &Client{engine: eng}, nil
}

func toMemory(m Memory) (*internal.Memory, error) {
	abs, err := filepath.Abs(m.Path)
	if err != nil {
		return nil, err
	}

	kind, lang, mime := internal.ClassifyPath(abs)
	if m.Kind != KindAuto {
		if kind, err = internal.ParseKind(string(m.Kind)); err != nil {
			return nil, err
		}
	}
	if m.Language != "" {
		lang = m.Language
	}

	id, err := internal.NewID(m.ID)
	if err != nil {
		return nil, err
	}

	mem := internal.NewMemory(id, kind, internal.ContentRef(abs))
	mem.Language = lang
	mem.MimeType = mime
	return mem, nil
}

// Index embeds a single memory and makes it searchable.
func (c *Client) Index(ctx context.Context, m Memory) error {
	mem, err := toMemory(m)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.engine.Indexer.Index(ctx, mem); err != nil {
		return fmt.Errorf("index %s: %w", m.ID, err)
	}
	return nil
}

// IndexBatch embeds memories concurrently. A failing memory never stops the others.
func (c *Client) IndexBatch(ctx context.Context, ms []Memory) (*IndexReport, error) {
	mems := make([]*internal.Memory, 0, len(ms))
	for _, m := range ms {
		mem, err := toMemory(m)
		if err != nil {
			return nil, fmt.Errorf("index batch: %w", err)
		}
		mems = append(mems, mem)
	}

	report, err := c.engine.Indexer.IndexBatch(ctx, mems)
	if err != nil {
		return nil, fmt.Errorf("index batch: %w", err)
	}

	out := &IndexReport{Indexed: make([]string, 0, len(report.Indexed))}
	for _, id := range report.Indexed {
		out.Indexed = append(out.Indexed, id.String())
	}
	if len(report.Failures) > 0 {
		out.Failures = make(map[string]string, len(report.Failures))
		for _, f := range report.Failures {
			out.Failures[f.ID.String()] = f.Err.Error()
		}
	}
	return out, nil
}

// Search returns up to limit memories closest to query. KindAuto searches every kind.
func (c *Client) Search(ctx context.Context, query string, kind Kind, limit int) ([]SearchResult, error) {
	k := internal.KindUnknown
	if kind != KindAuto {
		var err error
		if k, err = internal.ParseKind(string(kind)); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
	}

	results, err := c.engine.Search.Search(ctx, query, k, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ID:        r.ID.String(),
			Score:     r.Score,
			Rank:      r.Rank,
			Namespace: r.Namespace.String(),
		})
	}
	return out, nil
}

// Delete removes a memory from the index. Unknown ids are not an error.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.engine.Indexer.Remove(ctx, internal.ID(id)); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Close releases loaded models and the index.
func (c *Client) Close() error {
	return c.engine.Close()
}
