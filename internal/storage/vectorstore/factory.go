package vectorstore

import (
	"context"
	"fmt"

	"ragcore/internal/config"
)

// New selects and constructs a VectorStore from cfg.VectorStoreKind: memory,
// postgres, or qdrant.
func New(ctx context.Context, cfg config.StorageConfig) (VectorStore, error) {
	switch cfg.VectorStoreKind {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(ctx, cfg.VectorStoreDSN, cfg.VectorDimension, MetricCosine)
	case "qdrant":
		return NewQdrant(ctx, cfg.VectorStoreDSN, "chunks", cfg.VectorDimension, MetricCosine)
	default:
		return nil, fmt.Errorf("vectorstore: unknown kind %q", cfg.VectorStoreKind)
	}
}
