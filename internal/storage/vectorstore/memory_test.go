package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySimilaritySearchRanksByCosine(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Upsert(ctx, "a", []float32{1, 0}, map[string]string{"doc": "1"}))
	require.NoError(t, m.Upsert(ctx, "b", []float32{0, 1}, map[string]string{"doc": "2"}))
	require.NoError(t, m.Upsert(ctx, "c", []float32{0.9, 0.1}, map[string]string{"doc": "1"}))

	results, err := m.SimilaritySearch(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].ID)
	require.Equal(t, "c", results[1].ID)
}

func TestMemorySimilaritySearchFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, "a", []float32{1, 0}, map[string]string{"kb": "kb1"}))
	require.NoError(t, m.Upsert(ctx, "b", []float32{1, 0}, map[string]string{"kb": "kb2"}))

	results, err := m.SimilaritySearch(ctx, []float32{1, 0}, 10, map[string]string{"kb": "kb2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, "a", []float32{1, 0}, nil))
	require.NoError(t, m.Delete(ctx, "a"))

	results, err := m.SimilaritySearch(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}
