package internal

import (
	"github.com/mariotoffia/goannoy/builder"
	"github.com/mariotoffia/goannoy/interfaces"
)

// annOversample widens the candidate set pulled from the forest before exact rescoring.
const annOversample = 4

// annSnapshot is an angular annoy forest over a frozen view of one namespace.
// Any write to the namespace discards it.
type annSnapshot struct {
	idx interfaces.AnnoyIndex[float32, uint32]
	ids []ID
}

func buildANN(vectors []*storedVector, dimension, trees int) *annSnapshot {
	idx := builder.Index[float32, uint32]().
		AngularDistance(dimension).
		UseMultiWorkerPolicy().
		MmapIndexAllocator().
		Build()

	ids := make([]ID, len(vectors))
	for i, v := range vectors {
		idx.AddItem(uint32(i), v.vec)
		ids[i] = v.id
	}
	idx.Build(trees, -1)

	return &annSnapshot{idx: idx, ids: ids}
}

// candidates returns the ids of up to k*annOversample approximate neighbours of query.
func (a *annSnapshot) candidates(query []float32, k int) []ID {
	n := k * annOversample
	if n > len(a.ids) {
		n = len(a.ids)
	}

	searchCtx := a.idx.CreateContext()
	items, _ := a.idx.GetNnsByVector(query, n, -1, searchCtx)

	out := make([]ID, 0, len(items))
	for _, item := range items {
		if int(item) < len(a.ids) {
			out = append(out, a.ids[item])
		}
	}
	return out
}
