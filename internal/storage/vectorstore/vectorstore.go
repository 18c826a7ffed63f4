// Package vectorstore provides pluggable nearest-neighbour backends for
// chunk embeddings: an in-memory implementation for tests, a pgvector-backed
// implementation for single-node deployments, and a Qdrant-backed
// implementation for networked, horizontally scaled deployments.
package vectorstore

import "context"

// Result is a single similarity-search hit.
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Metric names the distance function a collection was created with.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
	MetricDot    Metric = "dot"
)

// VectorStore upserts and searches chunk embeddings. IDs are caller-chosen
// (chunk IDs); implementations are responsible for mapping them onto
// whatever primary key their backend requires.
type VectorStore interface {
	// Upsert inserts or replaces the vector and metadata for id.
	Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error

	// Delete removes id. Not an error if it does not exist.
	Delete(ctx context.Context, id string) error

	// SimilaritySearch returns the topK nearest neighbours of vec, optionally
	// restricted to entries whose metadata matches filter exactly.
	SimilaritySearch(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]Result, error)

	// Close releases backend resources.
	Close() error
}
