package internal

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorIndexInsertAndQuery(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")

	vec := unit(ns, 7)
	require.NoError(t, idx.Insert(ctx, "m1", vec, ns))
	require.NoError(t, idx.Insert(ctx, "m2", unit(ns, 8), ns))

	results, err := idx.Query(ctx, vec, ns, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, ID("m1"), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
	assert.Equal(t, ns, results[0].Namespace)
}

func TestVectorIndexUpsert(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")

	require.NoError(t, idx.Insert(ctx, "m1", unit(ns, 0), ns))
	require.NoError(t, idx.Insert(ctx, "m1", unit(ns, 1), ns))
	assert.Equal(t, 1, idx.Len(ns))

	results, err := idx.Query(ctx, unit(ns, 1), ns, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestVectorIndexDelete(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	ns := NewNamespace(KindCode, "v1")

	require.NoError(t, idx.Insert(ctx, "gone", unit(ns, 0), ns))
	require.NoError(t, idx.Delete(ctx, "gone"))
	require.NoError(t, idx.Delete(ctx, "gone"), "delete is idempotent")
	require.NoError(t, idx.Delete(ctx, "never-inserted"))

	assert.False(t, idx.Contains("gone"))
	results, err := idx.Query(ctx, unit(ns, 0), ns, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndexRejectsBadInput(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	ns := NewNamespace(KindDocument, "v1")

	err := idx.Insert(ctx, "short", make([]float32, 1023), ns)
	assert.ErrorIs(t, err, ErrIndex)
	assert.False(t, idx.Contains("short"))

	nan := unit(ns, 0)
	nan[3] = float32(math.NaN())
	assert.ErrorIs(t, idx.Insert(ctx, "nan", nan, ns), ErrIndex)

	inf := unit(ns, 0)
	inf[4] = float32(math.Inf(1))
	assert.ErrorIs(t, idx.Insert(ctx, "inf", inf, ns), ErrIndex)

	assert.ErrorIs(t, idx.Insert(ctx, "", unit(ns, 0), ns), ErrIndex)
	assert.ErrorIs(t, idx.Insert(ctx, "x", unit(ns, 0), NewNamespace(KindDocument, "")), ErrIndex)

	_, err = idx.Query(ctx, unit(ns, 0), ns, 0)
	assert.ErrorIs(t, err, ErrIndex)
	_, err = idx.Query(ctx, unit(ns, 0), ns, -2)
	assert.ErrorIs(t, err, ErrIndex)
	_, err = idx.Query(ctx, make([]float32, 512), ns, 1)
	assert.ErrorIs(t, err, ErrIndex)
}

func TestVectorIndexEmptyNamespace(t *testing.T) {
	idx := memoryIndex(t)
	ns := NewNamespace(KindImage, "v1")

	results, err := idx.Query(context.Background(), unit(ns, 0), ns, 10)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestVectorIndexTieBreak(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")

	for _, id := range []ID{"c", "a", "b"} {
		require.NoError(t, idx.Insert(ctx, id, unit(ns, 0), ns))
	}

	results, err := idx.Query(ctx, unit(ns, 0), ns, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []ID{"a", "b", "c"}, []ID{results[0].ID, results[1].ID, results[2].ID})
}

func TestVectorIndexQueryLimit(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")

	for i := 0; i < 20; i++ {
		require.NoError(t, idx.Insert(ctx, ID(fmt.Sprintf("m%02d", i)), unit(ns, i), ns))
	}

	results, err := idx.Query(ctx, unit(ns, 5), ns, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, ID("m05"), results[0].ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestVectorIndexCrossKindIsolation(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	image := NewNamespace(KindImage, "v1")
	generic := NewNamespace(KindGeneric, "v1")

	// Same dimension, same vector, different kinds.
	require.NoError(t, idx.Insert(ctx, "picture", unit(image, 0), image))
	require.NoError(t, idx.Insert(ctx, "note", unit(generic, 0), generic))

	results, err := idx.Query(ctx, unit(generic, 0), generic, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ID("note"), results[0].ID)
}

func TestVectorIndexVersionIsolation(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	v1 := NewNamespace(KindCode, "v1")
	v2 := NewNamespace(KindCode, "v2")

	require.NoError(t, idx.Insert(ctx, "old", unit(v1, 0), v1))
	require.NoError(t, idx.Insert(ctx, "new", unit(v2, 0), v2))

	results, err := idx.Query(ctx, unit(v2, 0), v2, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ID("new"), results[0].ID)

	assert.Equal(t, []Namespace{v1, v2}, idx.Namespaces())
}

func TestVectorIndexReinsertMovesNamespace(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	code := NewNamespace(KindCode, "v1")
	generic := NewNamespace(KindGeneric, "v1")

	require.NoError(t, idx.Insert(ctx, "m", unit(code, 0), code))
	require.NoError(t, idx.Insert(ctx, "m", unit(generic, 0), generic))

	assert.Equal(t, 0, idx.Len(code))
	assert.Equal(t, 1, idx.Len(generic))

	entry, ok := idx.Lookup("m")
	require.True(t, ok)
	assert.Equal(t, generic, entry.Namespace)
}

func TestVectorIndexMetrics(t *testing.T) {
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")

	for _, m := range []Metric{MetricCosine, MetricDot, MetricEuclidean} {
		t.Run(string(m), func(t *testing.T) {
			idx := memoryIndex(t, WithMetric(m))
			require.NoError(t, idx.Insert(ctx, "near", unit(ns, 0), ns))
			require.NoError(t, idx.Insert(ctx, "far", unit(ns, 1), ns))

			results, err := idx.Query(ctx, unit(ns, 0), ns, 2)
			require.NoError(t, err)
			assert.Equal(t, ID("near"), results[0].ID)
			assert.Greater(t, results[0].Score, results[1].Score)
		})
	}
}

func TestVectorIndexCancelledInsert(t *testing.T) {
	idx := memoryIndex(t)
	ns := NewNamespace(KindGeneric, "v1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, idx.Insert(ctx, "m", unit(ns, 0), ns), context.Canceled)
	assert.False(t, idx.Contains("m"))
}

func TestVectorIndexPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), IndexFilename)
	code := NewNamespace(KindCode, "v1")
	doc := NewNamespace(KindDocument, "v1")

	store, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	idx, err := NewVectorIndex(ctx, store)
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, "c1", unit(code, 1), code))
	require.NoError(t, idx.Insert(ctx, "c2", unit(code, 2), code))
	require.NoError(t, idx.Insert(ctx, "d1", unit(doc, 1), doc))
	require.NoError(t, idx.Insert(ctx, "moved", unit(code, 3), code))
	require.NoError(t, idx.Insert(ctx, "moved", unit(doc, 3), doc))
	require.NoError(t, idx.Delete(ctx, "c2"))
	require.NoError(t, idx.Close())

	store, err = OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	reopened, err := NewVectorIndex(ctx, store)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Len(code))
	assert.Equal(t, 2, reopened.Len(doc))
	assert.False(t, reopened.Contains("c2"))

	results, err := reopened.Query(ctx, unit(doc, 3), doc, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ID("moved"), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestVectorIndexConcurrentWriters(t *testing.T) {
	idx := memoryIndex(t)
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := ID(fmt.Sprintf("w%d-%d", w, i))
				assert.NoError(t, idx.Insert(ctx, id, unit(ns, i), ns))
				_, err := idx.Query(ctx, unit(ns, i), ns, 3)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, idx.Len(ns))
}

func randomUnit(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return l2Normalize(v)
}

func TestVectorIndexANN(t *testing.T) {
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")
	r := rand.New(rand.NewSource(7))

	idx := memoryIndex(t, WithANN(8, 100))
	vecs := make(map[ID][]float32)
	for i := 0; i < 300; i++ {
		id := ID(fmt.Sprintf("m%03d", i))
		vecs[id] = randomUnit(r, ns.Dimension())
		require.NoError(t, idx.Insert(ctx, id, vecs[id], ns))
	}

	results, err := idx.Query(ctx, vecs["m042"], ns, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, ID("m042"), results[0].ID, "an exact match survives approximate candidate selection")
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)

	// Writes invalidate the snapshot.
	fresh := randomUnit(r, ns.Dimension())
	require.NoError(t, idx.Insert(ctx, "fresh", fresh, ns))
	results, err = idx.Query(ctx, fresh, ns, 1)
	require.NoError(t, err)
	assert.Equal(t, ID("fresh"), results[0].ID)

	require.NoError(t, idx.Delete(ctx, "fresh"))
	results, err = idx.Query(ctx, fresh, ns, 3)
	require.NoError(t, err)
	for _, res := range results {
		assert.NotEqual(t, ID("fresh"), res.ID)
	}
}

func TestVectorIndexDuplicatesPastANNThresholdTieBreak(t *testing.T) {
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")
	cfg := DefaultConfig()

	// minSize is lowered so the namespace is well past it; default trees keep search exact.
	idx := memoryIndex(t, WithANN(cfg.Index.ANNTrees, 50))
	dup := unit(ns, 3)
	for i := 199; i >= 0; i-- {
		require.NoError(t, idx.Insert(ctx, ID(fmt.Sprintf("d%03d", i)), dup, ns))
	}

	results, err := idx.Query(ctx, dup, ns, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []ID{"d000", "d001", "d002"}, []ID{results[0].ID, results[1].ID, results[2].ID})
}

func TestVectorIndexANNIgnoredForNonCosineMetrics(t *testing.T) {
	ctx := context.Background()
	ns := NewNamespace(KindGeneric, "v1")

	for _, metric := range []Metric{MetricDot, MetricEuclidean} {
		t.Run(string(metric), func(t *testing.T) {
			idx := memoryIndex(t, WithMetric(metric), WithANN(8, 50))

			// Every vector points the same way; only length separates them.
			for i := 0; i < 200; i++ {
				v := unit(ns, 0)
				v[0] = float32(i + 1)
				require.NoError(t, idx.Insert(ctx, ID(fmt.Sprintf("s%03d", i)), v, ns))
			}

			query := unit(ns, 0)
			query[0] = 200
			results, err := idx.Query(ctx, query, ns, 1)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, ID("s199"), results[0].ID)
		})
	}
}

func TestVectorIndexDropsOlderDuplicateFromStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), IndexFilename)
	older := NewNamespace(KindCode, "v1")
	newer := NewNamespace(KindGeneric, "v1")

	store, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	// Both rows written without a move, as a crash between the two would leave them.
	require.NoError(t, store.Put(ctx, IndexEntry{ID: "x", Vector: unit(older, 0), Namespace: older, InsertedAt: time.Unix(100, 0)}, nil))
	require.NoError(t, store.Put(ctx, IndexEntry{ID: "x", Vector: unit(newer, 0), Namespace: newer, InsertedAt: time.Unix(200, 0)}, nil))

	idx, err := NewVectorIndex(ctx, store)
	require.NoError(t, err)
	entry, ok := idx.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, newer, entry.Namespace)

	require.NoError(t, idx.Delete(ctx, "x"))
	require.NoError(t, idx.Close())

	store, err = OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	reopened, err := NewVectorIndex(ctx, store)
	require.NoError(t, err)
	defer reopened.Close()
	assert.False(t, reopened.Contains("x"), "a deleted id does not come back after restart")
}

func TestVectorIndexSkipsCorruptNamespace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), IndexFilename)
	bad := NewNamespace(KindDocument, "v1")
	good := NewNamespace(KindCode, "v1")

	store, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	idx, err := NewVectorIndex(ctx, store)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, "d", unit(bad, 0), bad))
	require.NoError(t, idx.Insert(ctx, "c", unit(good, 0), good))
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `UPDATE "`+tableName(bad)+`" SET vector = x'0000'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err = OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	idx, err = NewVectorIndex(ctx, store)
	require.NoError(t, err, "other namespaces stay usable")
	defer idx.Close()

	assert.True(t, idx.Contains("c"))
	assert.False(t, idx.Contains("d"))
	assert.ErrorIs(t, idx.Corrupt()[bad], ErrCorruptNamespace)

	results, err := idx.Query(ctx, unit(good, 0), good, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ID("c"), results[0].ID)

	err = idx.Insert(ctx, "d2", unit(bad, 1), bad)
	assert.ErrorIs(t, err, ErrCorruptNamespace)
	require.NoError(t, idx.Insert(ctx, "c2", unit(good, 1), good))
}
