package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
	"ragcore/internal/storage/blobstore"
	"ragcore/internal/storage/relmemory"
)

func TestStageThenProcessPersistsDocumentAndChunks(t *testing.T) {
	rel := relmemory.New()
	blobs := blobstore.NewMemoryStore()
	p := New(rel, blobs)

	staged, err := p.Stage(context.Background(), Input{
		KnowledgeBaseID: "kb-1",
		SourceURI:       "upload://doc-1.txt",
		ContentType:     "text/plain",
		Raw:             []byte("This is a reasonably long piece of content about widgets and gadgets."),
	})
	require.NoError(t, err)
	require.False(t, staged.Deduped)
	require.Equal(t, domain.DocumentStatusPending, staged.Document.Status)

	chunks, err := p.Process(context.Background(), staged.Document)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	docs, err := rel.ListDocuments(context.Background(), "kb-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, domain.DocumentStatusChunked, docs[0].Status)
}

func TestStageDeduplicatesIdenticalContent(t *testing.T) {
	rel := relmemory.New()
	blobs := blobstore.NewMemoryStore()
	p := New(rel, blobs)

	in := Input{
		KnowledgeBaseID: "kb-1",
		SourceURI:       "upload://doc-1.txt",
		ContentType:     "text/plain",
		Raw:             []byte("Identical content across two ingestion attempts."),
	}

	first, err := p.Stage(context.Background(), in)
	require.NoError(t, err)
	require.False(t, first.Deduped)

	second, err := p.Stage(context.Background(), in)
	require.NoError(t, err)
	require.True(t, second.Deduped)
	require.Equal(t, first.Document.ID, second.Document.ID)
}

func TestProcessRejectsEmptyContentAfterClean(t *testing.T) {
	rel := relmemory.New()
	blobs := blobstore.NewMemoryStore()
	p := New(rel, blobs)

	staged, err := p.Stage(context.Background(), Input{
		KnowledgeBaseID: "kb-1",
		SourceURI:       "upload://empty.txt",
		ContentType:     "text/plain",
		Raw:             []byte("a"),
	})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), staged.Document)
	require.Error(t, err)
}
