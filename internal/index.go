package internal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// SearchResult is one ranked hit. Rank is 1-based.
type SearchResult struct {
	ID        ID
	Score     float32
	Rank      int
	Namespace Namespace
}

type storedVector struct {
	id         ID
	vec        []float32
	mag        float64
	insertedAt time.Time
}

type space struct {
	ns      Namespace
	entries map[ID]*storedVector

	annMu sync.Mutex
	ann   *annSnapshot
}

// sorted returns the entries ordered by id so snapshots are reproducible.
func (s *space) sorted() []*storedVector {
	out := make([]*storedVector, 0, len(s.entries))
	for _, v := range s.entries {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// VectorIndex is the authoritative store of what is searchable. Every memory id
// lives in exactly one namespace. Writes go through to the IndexStore before
// they become visible, and are visible to the next read once they return.
type VectorIndex struct {
	store      IndexStore
	metric     Metric
	annTrees   int
	annMinSize int
	logger     *log.Logger
	now        func() time.Time

	// corrupt holds namespaces skipped at load. Fixed after construction.
	corrupt map[Namespace]error

	mu     sync.RWMutex
	spaces map[Namespace]*space
	owner  map[ID]Namespace
}

type IndexOption func(*VectorIndex)

func WithMetric(m Metric) IndexOption {
	return func(v *VectorIndex) { v.metric = m }
}

// WithANN opts into approximate search for namespaces holding at least minSize
// vectors. Only the annoy candidates are rescored, so results there are not an
// exact top-k and ties may not resolve to the lowest id. trees <= 0 disables it,
// and so does any metric other than cosine, since the forest ranks by angle.
func WithANN(trees, minSize int) IndexOption {
	return func(v *VectorIndex) {
		v.annTrees = trees
		v.annMinSize = minSize
	}
}

func WithIndexLogger(l *log.Logger) IndexOption {
	return func(v *VectorIndex) { v.logger = l }
}

// NewVectorIndex loads every namespace persisted in store. store may be nil for a
// process-local index.
func NewVectorIndex(ctx context.Context, store IndexStore, opts ...IndexOption) (*VectorIndex, error) {
	v := &VectorIndex{
		store:  store,
		metric: MetricCosine,
		logger: discardLogger(),
		now:    func() time.Time { return time.Now().UTC() },
		spaces:  make(map[Namespace]*space),
		owner:   make(map[ID]Namespace),
		corrupt: make(map[Namespace]error),
	}
	for _, o := range opts {
		o(v)
	}

	if store == nil {
		return v, nil
	}

	snaps, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	for _, snap := range snaps {
		if snap.Corrupt != nil {
			v.logger.Warn("skipping corrupt namespace", "namespace", snap.Namespace, "err", snap.Corrupt)
			v.corrupt[snap.Namespace] = snap.Corrupt
			continue
		}

		sp := v.space(snap.Namespace)
		for _, e := range snap.Entries {
			if prev, ok := v.owner[e.ID]; ok {
				old := v.spaces[prev].entries[e.ID]
				loser := snap.Namespace
				if e.InsertedAt.After(old.insertedAt) {
					loser = prev
					delete(v.spaces[prev].entries, e.ID)
				}
				v.logger.Warn("duplicate index entry, dropping older", "id", e.ID, "dropped", loser)
				if err := store.Remove(ctx, loser, e.ID); err != nil {
					v.logger.Warn("could not remove older duplicate", "id", e.ID, "namespace", loser, "err", err)
				}
				if loser == snap.Namespace {
					continue
				}
			}
			sp.entries[e.ID] = &storedVector{id: e.ID, vec: e.Vector, mag: magnitude(e.Vector), insertedAt: e.InsertedAt}
			v.owner[e.ID] = snap.Namespace
		}
		v.logger.Debug("namespace loaded", "namespace", snap.Namespace, "entries", len(sp.entries))
	}

	return v, nil
}

func (v *VectorIndex) space(ns Namespace) *space {
	sp, ok := v.spaces[ns]
	if !ok {
		sp = &space{ns: ns, entries: make(map[ID]*storedVector)}
		v.spaces[ns] = sp
	}
	return sp
}

func checkVector(vec []float32, ns Namespace) error {
	if !ns.Valid() {
		return indexErrorf("invalid namespace %s", ns)
	}
	if len(vec) != ns.Dimension() {
		return indexErrorf("%s expects %d floats, got %d", ns, ns.Dimension(), len(vec))
	}
	for i, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return indexErrorf("non-finite value at position %d", i)
		}
	}
	return nil
}

// Insert upserts id into ns. An entry for id in any other namespace is replaced
// atomically. Nothing is persisted or visible if ctx ends before the commit.
func (v *VectorIndex) Insert(ctx context.Context, id ID, vector []float32, ns Namespace) error {
	if id == "" {
		return indexErrorf("empty memory id")
	}
	if err := checkVector(vector, ns); err != nil {
		return err
	}
	if err, ok := v.corrupt[ns]; ok {
		return fmt.Errorf("refusing write to %s: %w", ns, err)
	}

	staged := &storedVector{
		id:         id,
		vec:        append([]float32(nil), vector...),
		mag:        magnitude(vector),
		insertedAt: v.now(),
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	prev, hadPrev := v.owner[id]
	if v.store != nil {
		var prevNS *Namespace
		if hadPrev {
			prevNS = &prev
		}
		entry := IndexEntry{ID: id, Vector: staged.vec, Namespace: ns, InsertedAt: staged.insertedAt}
		if err := v.store.Put(ctx, entry, prevNS); err != nil {
			return fmt.Errorf("persist %s: %w", id, err)
		}
	}

	if hadPrev && prev != ns {
		old := v.spaces[prev]
		delete(old.entries, id)
		old.ann = nil
	}
	sp := v.space(ns)
	sp.entries[id] = staged
	sp.ann = nil
	v.owner[id] = ns

	return nil
}

// Delete removes id from whichever namespace holds it. Absent ids are not an error.
func (v *VectorIndex) Delete(ctx context.Context, id ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	ns, ok := v.owner[id]
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if v.store != nil {
		if err := v.store.Remove(ctx, ns, id); err != nil {
			return fmt.Errorf("persist delete of %s: %w", id, err)
		}
	}

	sp := v.spaces[ns]
	delete(sp.entries, id)
	sp.ann = nil
	delete(v.owner, id)

	return nil
}

// Query returns up to k entries of ns ordered by descending score, ties broken by
// lower id first.
func (v *VectorIndex) Query(ctx context.Context, vector []float32, ns Namespace, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, indexErrorf("k must be positive, got %d", k)
	}
	if err := checkVector(vector, ns); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	sp, ok := v.spaces[ns]
	if !ok || len(sp.entries) == 0 {
		return []SearchResult{}, nil
	}

	candidates := v.candidates(sp, vector, k)
	qmag := magnitude(vector)

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, SearchResult{
			ID:        c.id,
			Score:     v.metric.score(vector, qmag, c.vec, c.mag),
			Namespace: ns,
		})
	}

	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	return results, nil
}

// candidates picks the vectors to score exactly. Small namespaces are scanned in
// full; large ones consult the annoy snapshot, rebuilding it after writes.
// Callers hold v.mu for reading.
func (v *VectorIndex) candidates(sp *space, query []float32, k int) []*storedVector {
	if !v.annEnabled() || len(sp.entries) < v.annMinSize || len(sp.entries) <= k {
		out := make([]*storedVector, 0, len(sp.entries))
		for _, e := range sp.entries {
			out = append(out, e)
		}
		return out
	}

	sp.annMu.Lock()
	if sp.ann == nil {
		start := time.Now()
		sp.ann = buildANN(sp.sorted(), sp.ns.Dimension(), v.annTrees)
		v.logger.Debug("ann snapshot built", "namespace", sp.ns, "entries", len(sp.entries), "took", time.Since(start))
	}
	ann := sp.ann
	sp.annMu.Unlock()

	ids := ann.candidates(query, k)
	out := make([]*storedVector, 0, len(ids))
	for _, id := range ids {
		if e, ok := sp.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (v *VectorIndex) annEnabled() bool {
	return v.annTrees > 0 && v.metric == MetricCosine
}

func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// Namespaces lists every namespace the index knows, ordered by name.
func (v *VectorIndex) Namespaces() []Namespace {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Namespace, 0, len(v.spaces))
	for ns := range v.spaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (v *VectorIndex) Len(ns Namespace) int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if sp, ok := v.spaces[ns]; ok {
		return len(sp.entries)
	}
	return 0
}

func (v *VectorIndex) Contains(id ID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	_, ok := v.owner[id]
	return ok
}

// Lookup returns a copy of the entry stored for id.
func (v *VectorIndex) Lookup(id ID) (IndexEntry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ns, ok := v.owner[id]
	if !ok {
		return IndexEntry{}, false
	}
	e := v.spaces[ns].entries[id]
	return IndexEntry{
		ID:         id,
		Vector:     append([]float32(nil), e.vec...),
		Namespace:  ns,
		InsertedAt: e.insertedAt,
	}, true
}

// Corrupt lists the namespaces skipped at load with the reason for each.
func (v *VectorIndex) Corrupt() map[Namespace]error {
	out := make(map[Namespace]error, len(v.corrupt))
	for ns, err := range v.corrupt {
		out[ns] = err
	}
	return out
}

func (v *VectorIndex) Close() error {
	if v.store == nil {
		return nil
	}
	return v.store.Close()
}
