// Package retrieve implements hybrid retrieval: concurrent semantic and
// keyword candidate generation, reciprocal-rank or weighted-min-max
// fusion, optional diversification and reranking, and a query-result
// cache.
package retrieve

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ragcore/internal/lexical"
	"ragcore/internal/providers"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage/vectorstore"
)

// Candidate is one retrieved chunk before fusion, carrying whichever
// per-lane score(s) produced it.
type Candidate struct {
	ID           string
	Text         string
	Metadata     map[string]string
	SemanticRank int // 1-based rank in the semantic lane, 0 if absent
	KeywordRank  int // 1-based rank in the keyword lane, 0 if absent
	SemanticHit  float64
	KeywordHit   float64
}

// generateCandidates runs the semantic and keyword lanes concurrently and
// returns their raw ranked hits, keyed by candidate ID.
func generateCandidates(ctx context.Context, embedder providers.Embedder, vectors vectorstore.VectorStore, lex *lexical.Index, textByID map[string]string, query string, k int, filter map[string]string) (map[string]*Candidate, error) {
	merged := make(map[string]*Candidate)

	g, gctx := errgroup.WithContext(ctx)

	var semanticHits []vectorstore.Result
	g.Go(func() error {
		vec, err := embedder.EmbedBatch(gctx, []string{query})
		if err != nil {
			return ragerr.Wrap(ragerr.ProviderError, "retrieve_embed_query", err)
		}
		hits, err := vectors.SimilaritySearch(gctx, vec[0], k, filter)
		if err != nil {
			return ragerr.Wrap(ragerr.VectorStoreError, "retrieve_semantic_search", err)
		}
		semanticHits = hits
		return nil
	})

	var keywordHits []lexical.Result
	g.Go(func() error {
		keywordHits = lex.Search(query, k)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, hit := range semanticHits {
		c := merged[hit.ID]
		if c == nil {
			c = &Candidate{ID: hit.ID, Metadata: hit.Metadata}
			merged[hit.ID] = c
		}
		c.SemanticRank = i + 1
		c.SemanticHit = hit.Score
	}
	for i, hit := range keywordHits {
		c := merged[hit.ID]
		if c == nil {
			c = &Candidate{ID: hit.ID}
			merged[hit.ID] = c
		}
		c.KeywordRank = i + 1
		c.KeywordHit = hit.Score
	}
	for id, c := range merged {
		c.Text = textByID[id]
		_ = id
	}

	return merged, nil
}
