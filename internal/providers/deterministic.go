package providers

import (
	"context"
	"hash/fnv"
	"math"
)

// Deterministic is an offline Embedder that hashes byte trigrams into a
// fixed-size vector. It produces no useful semantic signal but is stable
// and dependency-free, which makes it useful for tests and for local
// development without a configured model provider.
type Deterministic struct {
	dim       int
	normalize bool
	seed      uint32
}

// NewDeterministic creates a Deterministic embedder of the given dimension.
func NewDeterministic(dim int, normalize bool, seed uint32) *Deterministic {
	if dim <= 0 {
		dim = 64
	}
	return &Deterministic{dim: dim, normalize: normalize, seed: seed}
}

func (d *Deterministic) Name() string    { return "deterministic" }
func (d *Deterministic) Dimension() int  { return d.dim }
func (d *Deterministic) Ping(ctx context.Context) error { return nil }

func (d *Deterministic) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *Deterministic) embedOne(text string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(text)
	const n = 3
	if len(b) < n {
		b = append(b, make([]byte, n-len(b))...)
	}
	for i := 0; i+n <= len(b); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(d.seed)})
		_, _ = h.Write(b[i : i+n])
		idx := h.Sum32() % uint32(d.dim)
		v[idx] += 1
	}
	if d.normalize {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for i := range v {
				v[i] = float32(float64(v[i]) / norm)
			}
		}
	}
	return v
}

var _ Embedder = (*Deterministic)(nil)
