package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ragcore/internal/lexical"
	"ragcore/internal/providers"
	"ragcore/internal/storage/vectorstore"
)

func seedEngine(t *testing.T) (*Engine, map[string]string) {
	t.Helper()
	embedder := providers.NewDeterministic(16, true, 7)
	vectors := vectorstore.NewMemory()
	lex := lexical.New(lexical.DefaultParams())
	textByID := map[string]string{}

	seed := map[string]string{
		"c1": "the quick brown fox jumps over the lazy dog",
		"c2": "completely unrelated widget manufacturing text",
		"c3": "another fox related document about foxes",
	}
	for id, text := range seed {
		textByID[id] = text
		vec, err := embedder.EmbedBatch(context.Background(), []string{text})
		require.NoError(t, err)
		require.NoError(t, vectors.Upsert(context.Background(), id, vec[0], map[string]string{"document_id": id}))
		lex.Upsert(id, text)
	}

	return New(embedder, vectors, lex, nil, nil, textByID, DefaultOptions()), textByID
}

func TestSearchReturnsRelevantResultsFirst(t *testing.T) {
	engine, _ := seedEngine(t)
	results, err := engine.Search(context.Background(), Query{KnowledgeBaseID: "kb-1", Text: "fox", Mode: ModeHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	// c2 has no "fox" and appears in the semantic lane only, so RRF ranks it
	// below c1 and c3, which score in both lanes.
	require.NotEqual(t, "c2", results[0].ID)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	engine, _ := seedEngine(t)
	_, err := engine.Search(context.Background(), Query{KnowledgeBaseID: "kb-1", Text: ""})
	require.Error(t, err)
}

func TestSearchKeywordModeExcludesSemanticOnlyHits(t *testing.T) {
	engine, _ := seedEngine(t)
	results, err := engine.Search(context.Background(), Query{KnowledgeBaseID: "kb-1", Text: "fox", Mode: ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NotEqual(t, "c2", r.ID)
	}
}

func TestFuseRRFPrefersItemPresentInBothLanes(t *testing.T) {
	candidates := map[string]*Candidate{
		"a": {ID: "a", SemanticRank: 1, KeywordRank: 1},
		"b": {ID: "b", SemanticRank: 2},
	}
	fused := FuseRRF(candidates, 60)
	require.Equal(t, "a", fused[0].ID)
}

func TestDiversifyLimitsPerDocument(t *testing.T) {
	fused := []Fused{
		{ID: "1", Metadata: map[string]string{"document_id": "d1"}, Score: 3},
		{ID: "2", Metadata: map[string]string{"document_id": "d1"}, Score: 2},
		{ID: "3", Metadata: map[string]string{"document_id": "d1"}, Score: 1},
	}
	out := Diversify(fused, 2)
	require.Len(t, out, 2)
}

func TestEncodeDecodeResultsRoundTrips(t *testing.T) {
	in := []Fused{{ID: "a", Text: "x", Score: 1.5}}
	encoded, err := EncodeResults(in)
	require.NoError(t, err)
	out, err := DecodeResults(encoded)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
