package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// QueryEmbedder turns query text into a vector in a kind's space. *Embedder implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string, target Kind) (Embedding, error)
}

// Searcher is the read side of *VectorIndex.
type Searcher interface {
	Query(ctx context.Context, vector []float32, ns Namespace, k int) ([]SearchResult, error)
	Namespaces() []Namespace
}

// SearchService answers free-text queries against the index.
type SearchService struct {
	embedder QueryEmbedder
	index    Searcher
	logger   *log.Logger
}

func NewSearchService(embedder QueryEmbedder, index Searcher, logger *log.Logger) *SearchService {
	if logger == nil {
		logger = discardLogger()
	}
	return &SearchService{embedder: embedder, index: index, logger: logger}
}

// Search embeds query and returns up to limit ranked results. With kindFilter set
// only that kind's namespace is consulted; with KindUnknown every namespace whose
// kind currently embeds queries into that same namespace takes part.
func (s *SearchService) Search(ctx context.Context, query string, kindFilter Kind, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrSearch)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrSearch, limit)
	}

	if kindFilter != KindUnknown {
		results, err := s.searchKind(ctx, query, kindFilter, limit)
		if err != nil {
			s.logger.Error("search failed", "kind", kindFilter, "err", err)
			return nil, err
		}
		return results, nil
	}

	results, err := s.searchAll(ctx, query, limit)
	if err != nil {
		s.logger.Error("search failed", "err", err)
		return nil, err
	}
	return results, nil
}

func (s *SearchService) searchKind(ctx context.Context, query string, kind Kind, limit int) ([]SearchResult, error) {
	emb, err := s.embedder.EmbedQuery(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.index.Query(ctx, emb.Vector, emb.Namespace, limit)
}

func (s *SearchService) searchAll(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	perKind := make(map[Kind]*Embedding)
	var merged []SearchResult

	for _, ns := range s.index.Namespaces() {
		emb, ok := perKind[ns.Kind]
		if !ok {
			e, err := s.embedder.EmbedQuery(ctx, query, ns.Kind)
			switch {
			case errors.Is(err, ErrConfig):
				s.logger.Warn("skipping kind without query backend", "kind", ns.Kind, "err", err)
			case err != nil:
				return nil, fmt.Errorf("embed query for %s: %w", ns.Kind, err)
			default:
				emb = &e
			}
			perKind[ns.Kind] = emb
		}

		// Stale model versions and kinds whose queries land in another space are skipped.
		if emb == nil || emb.Namespace != ns {
			continue
		}

		results, err := s.index.Query(ctx, emb.Vector, ns, limit)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", ns, err)
		}
		merged = append(merged, results...)
	}

	sortResults(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	if merged == nil {
		merged = []SearchResult{}
	}

	return merged, nil
}
