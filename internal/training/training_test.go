package training

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
	"ragcore/internal/indexbuilder"
	"ragcore/internal/ingest"
	"ragcore/internal/lexical"
	"ragcore/internal/providers"
	"ragcore/internal/storage/blobstore"
	"ragcore/internal/storage/relmemory"
	"ragcore/internal/storage/vectorstore"
)

func TestCoordinatorTrainsQueuedKnowledgeBaseToReady(t *testing.T) {
	rel := relmemory.New()
	ctx := context.Background()

	kb := domain.KnowledgeBase{ID: "kb-1", TenantID: "tenant-1", Name: "kb", Status: domain.KBStatusQueued}
	require.NoError(t, rel.CreateKnowledgeBase(ctx, kb))
	require.NoError(t, rel.ReplaceChunks(ctx, "doc-1", []domain.Chunk{
		{ID: "c1", DocumentID: "doc-1", KnowledgeBaseID: "kb-1", Text: "alpha beta"},
	}))

	pipeline := ingest.New(rel, blobstore.NewMemoryStore())
	coord := New(rel, pipeline, 2, 4, func(kbID string) (*indexbuilder.Builder, error) {
		embedder := providers.NewDeterministic(8, true, 1)
		return indexbuilder.New(embedder, vectorstore.NewMemory(), lexical.New(lexical.DefaultParams()), indexbuilder.DefaultOptions()), nil
	})
	coord.Start(ctx)
	require.True(t, coord.Enqueue(Job{KnowledgeBaseID: "kb-1"}))

	require.Eventually(t, func() bool {
		got, err := rel.GetKnowledgeBase(ctx, "kb-1")
		return err == nil && got.Status == domain.KBStatusReady
	}, 2*time.Second, 10*time.Millisecond)

	coord.Stop()
}

func TestCoordinatorMarksErrorWhenNoChunks(t *testing.T) {
	rel := relmemory.New()
	ctx := context.Background()

	kb := domain.KnowledgeBase{ID: "kb-2", TenantID: "tenant-1", Name: "kb", Status: domain.KBStatusQueued}
	require.NoError(t, rel.CreateKnowledgeBase(ctx, kb))

	pipeline := ingest.New(rel, blobstore.NewMemoryStore())
	coord := New(rel, pipeline, 1, 4, func(kbID string) (*indexbuilder.Builder, error) {
		return indexbuilder.New(providers.NewDeterministic(8, true, 1), vectorstore.NewMemory(), lexical.New(lexical.DefaultParams()), indexbuilder.DefaultOptions()), nil
	})
	coord.Start(ctx)
	require.True(t, coord.Enqueue(Job{KnowledgeBaseID: "kb-2"}))

	require.Eventually(t, func() bool {
		got, err := rel.GetKnowledgeBase(ctx, "kb-2")
		return err == nil && got.Status == domain.KBStatusError
	}, 2*time.Second, 10*time.Millisecond)

	coord.Stop()
}

func TestStopTrainingTransitionsKnowledgeBaseToStopped(t *testing.T) {
	rel := relmemory.New()
	ctx := context.Background()

	kb := domain.KnowledgeBase{ID: "kb-3", TenantID: "tenant-1", Name: "kb", Status: domain.KBStatusQueued}
	require.NoError(t, rel.CreateKnowledgeBase(ctx, kb))
	for i := 0; i < 8; i++ {
		require.NoError(t, rel.ReplaceChunks(ctx, "doc-"+string(rune('a'+i)), []domain.Chunk{
			{ID: "c" + string(rune('a'+i)), DocumentID: "doc-" + string(rune('a'+i)), KnowledgeBaseID: "kb-3", Text: "alpha beta"},
		}))
	}

	pipeline := ingest.New(rel, blobstore.NewMemoryStore())
	opts := indexbuilder.DefaultOptions()
	opts.BatchSize = 1
	coord := New(rel, pipeline, 1, 4, func(kbID string) (*indexbuilder.Builder, error) {
		embedder := providers.NewDeterministic(8, true, 1)
		return indexbuilder.New(embedder, vectorstore.NewMemory(), lexical.New(lexical.DefaultParams()), opts), nil
	})
	coord.Start(ctx)
	require.True(t, coord.Enqueue(Job{KnowledgeBaseID: "kb-3"}))

	require.Eventually(t, func() bool {
		return coord.StopTraining("kb-3") == nil
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := rel.GetKnowledgeBase(ctx, "kb-3")
		return err == nil && got.Status == domain.KBStatusStopped
	}, 2*time.Second, 10*time.Millisecond)

	coord.Stop()
}

func TestStopTrainingReturnsNotFoundWhenNoJobRunning(t *testing.T) {
	coord := New(relmemory.New(), ingest.New(relmemory.New(), blobstore.NewMemoryStore()), 1, 4, func(kbID string) (*indexbuilder.Builder, error) {
		return nil, nil
	})
	err := coord.StopTraining("kb-unknown")
	require.Error(t, err)
}

func TestEstimatorRemainingIsZeroBeforeAnyUpdate(t *testing.T) {
	est := newETAEstimator()
	require.Equal(t, time.Duration(0), est.remaining())
}
