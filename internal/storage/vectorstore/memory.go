package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

type vec struct {
	v        []float32
	metadata map[string]string
}

// Memory is an in-process VectorStore backed by a guarded map, doing brute
// force cosine similarity. Used in tests and for small/offline deployments.
type Memory struct {
	mu   sync.RWMutex
	data map[string]vec
}

// NewMemory creates an in-memory VectorStore.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]vec)}
}

func (m *Memory) Upsert(ctx context.Context, id string, v []float32, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(v))
	copy(cp, v)
	m.data[id] = vec{v: cp, metadata: metadata}
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *Memory) SimilaritySearch(ctx context.Context, query []float32, topK int, filter map[string]string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Result, 0, len(m.data))
	for id, e := range m.data {
		if !matchesFilter(e.metadata, filter) {
			continue
		}
		results = append(results, Result{ID: id, Score: cosine(query, e.v), Metadata: e.metadata})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) Close() error { return nil }

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (na * nb)
}

var _ VectorStore = (*Memory)(nil)
