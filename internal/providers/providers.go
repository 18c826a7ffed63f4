// Package providers wraps the external model and rerank services the RAG
// core depends on behind narrow interfaces, so the ingestion, training and
// retrieval packages never import a vendor SDK directly.
package providers

import "context"

// Embedder turns text into vectors for a fixed model/dimension pair.
type Embedder interface {
	// EmbedBatch embeds all of texts, preserving order. Implementations are
	// responsible for any batching/backoff a provider requires; callers get
	// back one vector per input text or an error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error
}

// ChatMessage is a single role/content turn in a completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatCompleter produces a chat completion, optionally grounded on context
// passages assembled by the retrieval engine.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	Name() string
}

// RetrievedItem is the minimal shape a Reranker needs; internal/retrieve's
// richer type embeds the same fields so reranker implementations can accept
// either.
type RetrievedItem struct {
	ID      string
	Text    string
	Score   float64
}

// Reranker reorders (and may prune) a candidate list using a signal beyond
// the original fusion score: a cross-encoder call, a fresh BM25 pass against
// the query, or simply a re-weighting of the existing score components.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []RetrievedItem) ([]RetrievedItem, error)
	Name() string
}
