package internal

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

const (
	testCodeVersion     = "hash-code-v1"
	testDocumentVersion = "hash-doc-v1"
	testGenericVersion  = "hash-generic-v1"
)

func testModels() map[Kind]ModelConfig {
	return map[Kind]ModelConfig{
		KindImage:    {Backend: BackendPixel, Version: PixelVersion},
		KindCode:     {Backend: BackendHash, Version: testCodeVersion},
		KindDocument: {Backend: BackendHash, Version: testDocumentVersion},
		KindGeneric:  {Backend: BackendHash, Version: testGenericVersion},
	}
}

func testRegistry(t *testing.T) *ModelRegistry {
	t.Helper()
	r := NewModelRegistry(InferenceConfig{UseLocalInference: true}, testModels())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// testReader serves files from an in-memory filesystem.
func testReader(t *testing.T, files map[string][]byte) *FSContentReader {
	t.Helper()
	fs := memfs.New()
	for name, data := range files {
		if err := util.WriteFile(fs, name, data, 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return NewFSContentReader(fs)
}

func testPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if (x+y)%7 == 0 {
				img.Set(x, y, color.White)
				continue
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// unit returns a vector of ns's dimension with a single 1 at position i.
func unit(ns Namespace, i int) []float32 {
	v := make([]float32, ns.Dimension())
	v[i] = 1
	return v
}

func memoryIndex(t *testing.T, opts ...IndexOption) *VectorIndex {
	t.Helper()
	idx, err := NewVectorIndex(context.Background(), nil, opts...)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return idx
}
