package internal

import (
	"testing"
	"time"
)

func TestANNSnapshotCandidates(t *testing.T) {
	dim := 3
	vectors := []*storedVector{
		{id: "doc/one", vec: []float32{1.0, 0.0, 0.0}, insertedAt: time.Now()},
		{id: "doc/two", vec: []float32{0.0, 1.0, 0.0}, insertedAt: time.Now()},
		{id: "doc/three", vec: []float32{0.0, 0.0, 1.0}, insertedAt: time.Now()},
	}

	snap := buildANN(vectors, dim, 2)

	ids := snap.candidates([]float32{1.0, 0.1, 0.0}, 1)
	if len(ids) == 0 {
		t.Fatal("expected at least 1 candidate")
	}
	if ids[0] != "doc/one" {
		t.Errorf("expected closest candidate to be 'doc/one', got %q", ids[0])
	}
}

func TestANNSnapshotOversampleCapped(t *testing.T) {
	vectors := []*storedVector{
		{id: "a", vec: []float32{1, 0}},
		{id: "b", vec: []float32{0, 1}},
	}

	snap := buildANN(vectors, 2, 1)

	ids := snap.candidates([]float32{1, 1}, 10)
	if len(ids) > len(vectors) {
		t.Errorf("expected at most %d candidates, got %d", len(vectors), len(ids))
	}
	seen := map[ID]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate candidate %q", id)
		}
		seen[id] = true
	}
}
