package indexbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
	"ragcore/internal/lexical"
	"ragcore/internal/providers"
	"ragcore/internal/storage/vectorstore"
)

func TestBuildEmbedsAndIndexesAllChunks(t *testing.T) {
	embedder := providers.NewDeterministic(16, true, 1)
	vectors := vectorstore.NewMemory()
	lex := lexical.New(lexical.DefaultParams())

	builder := New(embedder, vectors, lex, Options{BatchSize: 2, MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	chunks := []domain.Chunk{
		{ID: "c1", DocumentID: "d1", Text: "alpha beta"},
		{ID: "c2", DocumentID: "d1", Text: "gamma delta"},
		{ID: "c3", DocumentID: "d1", Text: "epsilon zeta"},
	}

	var lastProgress Progress
	err := builder.Build(context.Background(), chunks, func(p Progress) { lastProgress = p })
	require.NoError(t, err)
	require.Equal(t, 3, lastProgress.Processed)

	results, err := vectors.SimilaritySearch(context.Background(), mustEmbed(t, embedder, "alpha beta"), 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.NotEmpty(t, lex.Search("alpha", 10))
}

func mustEmbed(t *testing.T, e providers.Embedder, text string) []float32 {
	t.Helper()
	vecs, err := e.EmbedBatch(context.Background(), []string{text})
	require.NoError(t, err)
	return vecs[0]
}
