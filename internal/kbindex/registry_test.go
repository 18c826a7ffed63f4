package kbindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
	"ragcore/internal/storage"
	"ragcore/internal/storage/relmemory"
	"ragcore/internal/storage/vectorstore"
)

func TestGetBuildsEntryFromExistingChunksAndCachesIt(t *testing.T) {
	rel := relmemory.New()
	ctx := context.Background()
	require.NoError(t, rel.ReplaceChunks(ctx, "doc-1", []domain.Chunk{
		{ID: "c1", DocumentID: "doc-1", KnowledgeBaseID: "kb-1", Text: "the quick brown fox"},
	}))

	shared := vectorstore.NewMemory()
	reg := New(rel, shared, nil)

	entry, err := reg.Get(ctx, "kb-1")
	require.NoError(t, err)
	require.Same(t, storage.VectorStore(shared), entry.Vectors)
	require.Equal(t, "the quick brown fox", entry.TextByID["c1"])
	require.Len(t, entry.Lex.Search("quick fox", 5), 1)

	again, err := reg.Get(ctx, "kb-1")
	require.NoError(t, err)
	require.Same(t, entry, again)
}

func TestGetWithoutSharedVectorsBuildsOnePerKnowledgeBase(t *testing.T) {
	rel := relmemory.New()
	ctx := context.Background()
	reg := New(rel, nil, func() storage.VectorStore { return vectorstore.NewMemory() })

	a, err := reg.Get(ctx, "kb-a")
	require.NoError(t, err)
	b, err := reg.Get(ctx, "kb-b")
	require.NoError(t, err)
	require.NotSame(t, a.Vectors, b.Vectors)
}

func TestInvalidateForcesRebuildWithFreshChunks(t *testing.T) {
	rel := relmemory.New()
	ctx := context.Background()
	require.NoError(t, rel.ReplaceChunks(ctx, "doc-1", []domain.Chunk{
		{ID: "c1", DocumentID: "doc-1", KnowledgeBaseID: "kb-1", Text: "alpha"},
	}))

	reg := New(rel, vectorstore.NewMemory(), nil)
	first, err := reg.Get(ctx, "kb-1")
	require.NoError(t, err)
	require.Contains(t, first.TextByID, "c1")

	require.NoError(t, rel.ReplaceChunks(ctx, "doc-1", []domain.Chunk{
		{ID: "c2", DocumentID: "doc-1", KnowledgeBaseID: "kb-1", Text: "beta"},
	}))
	reg.Invalidate("kb-1")

	second, err := reg.Get(ctx, "kb-1")
	require.NoError(t, err)
	require.NotContains(t, second.TextByID, "c1")
	require.Contains(t, second.TextByID, "c2")
}
