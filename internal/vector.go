package internal

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Namespace is the (kind, model version) partition inside which vectors are comparable.
type Namespace struct {
	Kind    Kind
	Version string
}

func NewNamespace(kind Kind, version string) Namespace {
	return Namespace{Kind: kind, Version: version}
}

func (n Namespace) Dimension() int {
	return n.Kind.Dimension()
}

func (n Namespace) String() string {
	return n.Kind.String() + "@" + n.Version
}

func (n Namespace) Valid() bool {
	return n.Kind.Valid() && n.Version != ""
}

type Embedding struct {
	Vector    []float32
	Namespace Namespace
}

func NewEmbedding(vec []float32, ns Namespace) Embedding {
	return Embedding{
		Vector:    vec,
		Namespace: ns,
	}
}

func (e Embedding) Dimension() int {
	return len(e.Vector)
}

// Similarity scores e against other. Embeddings from different namespaces are not comparable.
func (e Embedding) Similarity(other Embedding, metric Metric) (float32, error) {
	if e.Namespace != other.Namespace {
		return 0, indexErrorf("cannot compare %s with %s", e.Namespace, other.Namespace)
	}
	if len(e.Vector) != len(other.Vector) {
		return 0, indexErrorf("dimension mismatch: %d vs %d", len(e.Vector), len(other.Vector))
	}
	return metric.score(e.Vector, magnitude(e.Vector), other.Vector, magnitude(other.Vector)), nil
}

// Metric selects how query vectors are scored against stored vectors. Higher is always better.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(s)); m {
	case "":
		return MetricCosine, nil
	case MetricCosine, MetricDot, MetricEuclidean:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", ErrConfig, s)
	}
}

func (m Metric) score(a []float32, magA float64, b []float32, magB float64) float32 {
	switch m {
	case MetricDot:
		return float32(dot(a, b))
	case MetricEuclidean:
		return float32(1 / (1 + euclidean(a, b)))
	default:
		if magA == 0 || magB == 0 {
			return 0
		}
		return float32(dot(a, b) / (magA * magB))
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func magnitude(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func l2Normalize(vec []float32) []float32 {
	norm := magnitude(vec)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}

	return result
}

// encodeVector lays out vec as little-endian IEEE 754 float32 values without a length prefix.
func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte, dimension int) ([]float32, error) {
	if len(b) != dimension*4 {
		return nil, fmt.Errorf("%w: vector blob is %d bytes, want %d", ErrCorruptNamespace, len(b), dimension*4)
	}
	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
