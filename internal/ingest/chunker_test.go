package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkRespectsMaxSize(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks := Chunk(text, ChunkOptions{MaxChunkSize: 100, Overlap: 10, Separators: DefaultChunkOptions().Separators})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, len([]rune(c)), 100)
	}
}

func TestChunkPreservesAllContentRoughly(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	chunks := Chunk(text, ChunkOptions{MaxChunkSize: 20, Overlap: 0, Separators: []string{" ", ""}})
	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(text) {
		require.Contains(t, joined, word)
	}
}

func TestChunkEmptyInputReturnsNil(t *testing.T) {
	require.Nil(t, Chunk("   \n\n  ", DefaultChunkOptions()))
}

func TestChunkOverlapCarriesTailIntoNextChunk(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 50)
	chunks := Chunk(text, ChunkOptions{MaxChunkSize: 60, Overlap: 10, Separators: []string{"\n\n", ""}})
	require.GreaterOrEqual(t, len(chunks), 2)
	require.True(t, strings.HasPrefix(chunks[1], strings.Repeat("a", 8)))
}

func TestCleanCollapsesBlankLinesAndDropsShortLines(t *testing.T) {
	in := "Title\n\n\n\nx\n\nReal paragraph content here."
	out := Clean(in, CleanOptions{MinLineLength: 2, MaxLineLength: 0})
	require.NotContains(t, out, "\n\n\n")
	require.NotContains(t, out, "\nx\n")
}

func TestExtractRejectsUnsupportedContentType(t *testing.T) {
	_, err := Extract([]byte{0xFF, 0xD8}, "image/jpeg", "")
	require.Error(t, err)
}

func TestExtractPlainTextPassesThrough(t *testing.T) {
	out, err := Extract([]byte("hello world"), "text/plain", "")
	require.NoError(t, err)
	require.Equal(t, "hello world", out.Text)
}
