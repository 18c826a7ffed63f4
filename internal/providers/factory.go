package providers

import (
	"context"
	"fmt"

	"ragcore/internal/config"
)

// NewEmbedder selects and constructs an Embedder from cfg.Provider:
// openai, genai, http, or deterministic (for tests and local development,
// where no external model call is wanted). Anthropic has no embeddings
// endpoint, so it is not a valid embedding provider.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.Model, cfg.Dimension), nil
	case "genai":
		return NewGenai(ctx, cfg.APIKey, cfg.Model, cfg.Model, cfg.Dimension)
	case "http":
		return NewHTTP(cfg.Endpoint, cfg.Model, cfg.Dimension, cfg.APIKey), nil
	case "", "deterministic":
		return NewDeterministic(cfg.Dimension, true, 1), nil
	default:
		return nil, fmt.Errorf("providers: unknown embedding provider %q", cfg.Provider)
	}
}

// NewChatCompleter selects a ChatCompleter from the same provider name
// used for embeddings, since the SDK-backed providers serve both roles.
func NewChatCompleter(ctx context.Context, cfg config.EmbeddingConfig, chatModel string) (ChatCompleter, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg.APIKey, chatModel), nil
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, chatModel, cfg.Dimension), nil
	case "genai":
		return NewGenai(ctx, cfg.APIKey, cfg.Model, chatModel, cfg.Dimension)
	default:
		return nil, fmt.Errorf("providers: provider %q does not support chat completion", cfg.Provider)
	}
}

// NewReranker selects a Reranker from cfg.Mode: weighted_score or
// cross_encoder.
func NewReranker(cfg config.RerankConfig) (Reranker, error) {
	switch cfg.Mode {
	case "", "weighted_score":
		return NewWeightedRerank(0.7, 0.3), nil
	case "cross_encoder":
		return NewCrossEncoder(cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("providers: unknown rerank mode %q", cfg.Mode)
	}
}
