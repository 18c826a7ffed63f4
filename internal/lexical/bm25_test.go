package lexical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchRanksExactTermMatchHigher(t *testing.T) {
	idx := New(DefaultParams())
	idx.Upsert("doc-1", "the quick brown fox jumps over the lazy dog")
	idx.Upsert("doc-2", "completely unrelated text about widgets")

	results := idx.Search("fox dog", 10)
	require.NotEmpty(t, results)
	require.Equal(t, "doc-1", results[0].ID)
}

func TestSearchExcludesZeroScoreDocuments(t *testing.T) {
	idx := New(DefaultParams())
	idx.Upsert("doc-1", "alpha beta gamma")
	idx.Upsert("doc-2", "delta epsilon zeta")

	results := idx.Search("alpha", 10)
	require.Len(t, results, 1)
	require.Equal(t, "doc-1", results[0].ID)
}

func TestDeleteRemovesDocumentFromResults(t *testing.T) {
	idx := New(DefaultParams())
	idx.Upsert("doc-1", "searchable content here")
	idx.Delete("doc-1")

	results := idx.Search("searchable", 10)
	require.Empty(t, results)
}

func TestUpsertReplacesPriorContentForSameID(t *testing.T) {
	idx := New(DefaultParams())
	idx.Upsert("doc-1", "original content about cats")
	idx.Upsert("doc-1", "replaced content about dogs")

	require.Empty(t, idx.Search("cats", 10))
	require.NotEmpty(t, idx.Search("dogs", 10))
}

func TestSearchRespectsTopK(t *testing.T) {
	idx := New(DefaultParams())
	for _, id := range []string{"a", "b", "c"} {
		idx.Upsert(id, "shared term across all documents")
	}
	results := idx.Search("shared", 2)
	require.Len(t, results, 2)
}
