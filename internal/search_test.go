package internal

import (
	"context"
	"image/color"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spyEmbedder struct {
	inner QueryEmbedder
	calls atomic.Int32
}

func (s *spyEmbedder) EmbedQuery(ctx context.Context, text string, target Kind) (Embedding, error) {
	s.calls.Add(1)
	return s.inner.EmbedQuery(ctx, text, target)
}

func TestSearchRejectsBadInputBeforeEmbedding(t *testing.T) {
	spy := &spyEmbedder{inner: testEmbedder(t, nil)}
	svc := NewSearchService(spy, memoryIndex(t), nil)
	ctx := context.Background()

	_, err := svc.Search(ctx, "", KindUnknown, 10)
	assert.ErrorIs(t, err, ErrSearch)
	_, err = svc.Search(ctx, "  \n\t", KindDocument, 10)
	assert.ErrorIs(t, err, ErrSearch)
	_, err = svc.Search(ctx, "query", KindDocument, 0)
	assert.ErrorIs(t, err, ErrSearch)
	_, err = svc.Search(ctx, "query", KindDocument, -1)
	assert.ErrorIs(t, err, ErrSearch)

	assert.Equal(t, int32(0), spy.calls.Load())
}

// searchFixture indexes a small mixed corpus and returns a service over it.
func searchFixture(t *testing.T) (*SearchService, *VectorIndex) {
	t.Helper()
	r := testRegistry(t)
	e := NewEmbedder(r, testReader(t, map[string][]byte{
		"parser.go":  []byte("func parseQuery(input string) (*Query, error)"),
		"lexer.go":   []byte("func nextToken(input string) Token"),
		"design.md":  []byte("The query parser turns input into an abstract syntax tree."),
		"recipe.md":  []byte("Mix flour, sugar and butter. Bake for twenty minutes."),
		"todo.txt":   []byte("parser: handle escaped quotes in query input"),
		"sunset.png": testPNG(t, color.RGBA{R: 250, G: 120, B: 30, A: 255}),
	}))
	idx := memoryIndex(t)
	x := NewIndexer(e, idx, r, nil)

	report, err := x.IndexBatch(context.Background(), []*Memory{
		{ID: "parser", Kind: KindCode, Language: "go", Ref: "parser.go"},
		{ID: "lexer", Kind: KindCode, Language: "go", Ref: "lexer.go"},
		NewMemory("design", KindDocument, "design.md"),
		NewMemory("recipe", KindDocument, "recipe.md"),
		NewMemory("todo", KindGeneric, "todo.txt"),
		NewMemory("sunset", KindImage, "sunset.png"),
	})
	require.NoError(t, err)
	require.Empty(t, report.Failures)
	require.Len(t, report.Indexed, 6)

	return NewSearchService(e, idx, nil), idx
}

func TestSearchWithKindFilter(t *testing.T) {
	svc, _ := searchFixture(t)

	results, err := svc.Search(context.Background(), "parse query input", KindCode, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, ID("parser"), results[0].ID)
	for i, res := range results {
		assert.Equal(t, KindCode, res.Namespace.Kind)
		assert.Equal(t, i+1, res.Rank)
	}
}

func TestSearchAcrossKinds(t *testing.T) {
	svc, _ := searchFixture(t)

	results, err := svc.Search(context.Background(), "query parser input", KindUnknown, 10)
	require.NoError(t, err)

	// The image namespace has no text path of its own and is never merged in.
	require.Len(t, results, 5)

	kinds := map[Kind]bool{}
	for i, res := range results {
		assert.Equal(t, i+1, res.Rank)
		assert.NotEqual(t, ID("sunset"), res.ID)
		kinds[res.Namespace.Kind] = true
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, res.Score)
		}
	}
	assert.True(t, kinds[KindCode])
	assert.True(t, kinds[KindDocument])
	assert.True(t, kinds[KindGeneric])
}

func TestSearchLimit(t *testing.T) {
	svc, _ := searchFixture(t)

	results, err := svc.Search(context.Background(), "query parser input", KindUnknown, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, results[1].Rank)
}

func TestSearchSkipsStaleNamespaces(t *testing.T) {
	svc, idx := searchFixture(t)
	old := NewNamespace(KindCode, "retired-model")
	require.NoError(t, idx.Insert(context.Background(), "legacy", unit(old, 0), old))

	results, err := svc.Search(context.Background(), "query parser input", KindUnknown, 50)
	require.NoError(t, err)
	for _, res := range results {
		assert.NotEqual(t, ID("legacy"), res.ID)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	svc := NewSearchService(testEmbedder(t, nil), memoryIndex(t), nil)

	results, err := svc.Search(context.Background(), "anything", KindUnknown, 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results, err = svc.Search(context.Background(), "anything", KindDocument, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
