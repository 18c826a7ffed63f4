package retrieve

import (
	"context"
	"sort"
	"time"

	"ragcore/internal/lexical"
	"ragcore/internal/providers"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
	"ragcore/internal/storage/vectorstore"
)

// Mode selects the fusion strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// Options configures one Engine instance.
type Options struct {
	DefaultK       int
	MaxK           int
	Alpha          float64 // keyword weight in weighted_minmax fusion
	RRFK           int
	FusionMode     string // "rrf" | "weighted_minmax"
	Diversify      bool
	MaxPerDocument int
	CacheTTL       time.Duration
}

// DefaultOptions returns standalone Engine defaults. cmd/ragcored builds its
// Options from the retrieval config instead, whose max_k default (1000) and
// diversify default (off) differ from these.
func DefaultOptions() Options {
	return Options{DefaultK: 10, MaxK: 50, Alpha: 0.5, RRFK: 60, FusionMode: "rrf", Diversify: true, MaxPerDocument: 3, CacheTTL: 5 * time.Minute}
}

// Engine answers retrieval queries for one knowledge base.
type Engine struct {
	embedder providers.Embedder
	vectors  vectorstore.VectorStore
	lex      *lexical.Index
	reranker providers.Reranker
	cache    storage.Cache
	opts     Options
	textByID map[string]string // chunk ID -> text, kept alongside the index for cache-free Fused.Text
}

// New creates an Engine. cache may be nil to disable query caching.
func New(embedder providers.Embedder, vectors vectorstore.VectorStore, lex *lexical.Index, reranker providers.Reranker, cache storage.Cache, textByID map[string]string, opts Options) *Engine {
	return &Engine{embedder: embedder, vectors: vectors, lex: lex, reranker: reranker, cache: cache, opts: opts, textByID: textByID}
}

// RerankMode selects how the fused candidate list is reordered before
// being truncated to K.
type RerankMode string

const (
	RerankWeightedScore RerankMode = "weighted_score" // keep fusion order, no extra pass
	RerankCrossEncoder  RerankMode = "cross_encoder"   // call the configured provider reranker
	RerankBM25          RerankMode = "bm25"            // reorder by keyword-lane score alone
)

// Query is one retrieval request.
type Query struct {
	KnowledgeBaseID string
	Text            string
	Mode            Mode
	K               int
	Rerank          bool
	RerankMode      RerankMode
	ScoreThreshold  float64           // drop fused results scoring below this, 0 disables
	Filters         map[string]string // exact-match metadata filter, ANDed
	Alpha           *float64          // per-query override of Options.Alpha for weighted_minmax fusion
}

// fetchMultiplier and minFetchK control how many candidates the lanes
// over-fetch relative to the requested K, so fusion, diversification and
// filtering have enough headroom before truncating to K.
const (
	fetchMultiplier = 4
	minFetchK       = 50
)

// Search runs candidate generation, fusion, diversification and
// (optionally) reranking, serving from cache when available.
func (e *Engine) Search(ctx context.Context, q Query) ([]Fused, error) {
	if q.Text == "" {
		return nil, ragerr.New(ragerr.Validation, "retrieve_empty_query", "query text must not be empty")
	}
	k := q.K
	if k <= 0 {
		k = e.opts.DefaultK
	}
	if k > e.opts.MaxK {
		k = e.opts.MaxK
	}
	mode := q.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	rerankMode := q.RerankMode
	if rerankMode == "" && q.Rerank {
		rerankMode = RerankCrossEncoder
	}

	cacheKey := QueryCacheKey(QueryCacheParams{
		KnowledgeBaseID: q.KnowledgeBaseID,
		Mode:            string(mode),
		Query:           q.Text,
		K:               k,
		RerankMode:      string(rerankMode),
		ScoreThreshold:  q.ScoreThreshold,
		Filters:         q.Filters,
		Alpha:           q.Alpha,
	})
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
			if results, err := DecodeResults(cached); err == nil {
				return results, nil
			}
		}
	}

	fetchK := k * fetchMultiplier
	if fetchK < minFetchK {
		fetchK = minFetchK
	}

	candidates, err := generateCandidates(ctx, e.embedder, e.vectors, e.lex, e.textByID, q.Text, fetchK, q.Filters)
	if err != nil {
		return nil, err
	}
	candidates = filterByMode(candidates, mode)

	alpha := e.opts.Alpha
	if q.Alpha != nil {
		alpha = *q.Alpha
	}

	var fused []Fused
	if e.opts.FusionMode == "weighted_minmax" {
		fused = FuseWeightedMinMax(candidates, alpha)
	} else {
		fused = FuseRRF(candidates, e.opts.RRFK)
	}

	fused = filterByMetadata(fused, q.Filters)

	if e.opts.Diversify {
		fused = Diversify(fused, e.opts.MaxPerDocument)
	}

	switch rerankMode {
	case RerankCrossEncoder:
		if e.reranker != nil {
			fused, err = e.applyRerank(ctx, q.Text, fused)
			if err != nil {
				return nil, err
			}
		}
	case RerankBM25:
		fused = rerankByKeyword(fused, candidates)
	}

	if q.ScoreThreshold > 0 {
		fused = dropBelowThreshold(fused, q.ScoreThreshold)
	}

	if len(fused) > k {
		fused = fused[:k]
	}

	if e.cache != nil {
		if encoded, err := EncodeResults(fused); err == nil {
			_ = e.cache.Set(ctx, cacheKey, encoded, e.opts.CacheTTL)
		}
	}

	return fused, nil
}

// filterByMetadata keeps only results whose metadata matches every
// key/value in filters. Results missing a filtered key (e.g. keyword-only
// hits the vector store's own filter never saw) are dropped rather than
// assumed to match.
func filterByMetadata(fused []Fused, filters map[string]string) []Fused {
	if len(filters) == 0 {
		return fused
	}
	out := make([]Fused, 0, len(fused))
	for _, f := range fused {
		match := true
		for key, want := range filters {
			if f.Metadata[key] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, f)
		}
	}
	return out
}

// rerankByKeyword reorders fused results by their raw BM25 keyword score
// alone, ignoring the semantic lane and the fusion weighting. Results with
// no keyword hit sort last, in their prior fused order.
func rerankByKeyword(fused []Fused, candidates map[string]*Candidate) []Fused {
	out := make([]Fused, len(fused))
	copy(out, fused)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := candidates[out[i].ID], candidates[out[j].ID]
		var si, sj float64
		if ci != nil {
			si = ci.KeywordHit
		}
		if cj != nil {
			sj = cj.KeywordHit
		}
		return si > sj
	})
	return out
}

// dropBelowThreshold removes results scoring below threshold.
func dropBelowThreshold(fused []Fused, threshold float64) []Fused {
	out := make([]Fused, 0, len(fused))
	for _, f := range fused {
		if f.Score >= threshold {
			out = append(out, f)
		}
	}
	return out
}

func filterByMode(candidates map[string]*Candidate, mode Mode) map[string]*Candidate {
	if mode == ModeHybrid {
		return candidates
	}
	out := make(map[string]*Candidate, len(candidates))
	for id, c := range candidates {
		switch mode {
		case ModeSemantic:
			if c.SemanticRank > 0 {
				cp := *c
				cp.KeywordRank = 0
				out[id] = &cp
			}
		case ModeKeyword:
			if c.KeywordRank > 0 {
				cp := *c
				cp.SemanticRank = 0
				out[id] = &cp
			}
		}
	}
	return out
}

func (e *Engine) applyRerank(ctx context.Context, query string, fused []Fused) ([]Fused, error) {
	items := make([]providers.RetrievedItem, len(fused))
	for i, f := range fused {
		items[i] = providers.RetrievedItem{ID: f.ID, Text: f.Text, Score: f.Score}
	}
	reranked, err := e.reranker.Rerank(ctx, query, items)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "retrieve_rerank", err)
	}

	byID := make(map[string]Fused, len(fused))
	for _, f := range fused {
		byID[f.ID] = f
	}
	out := make([]Fused, len(reranked))
	for i, r := range reranked {
		f := byID[r.ID]
		f.Score = r.Score
		out[i] = f
	}
	return out, nil
}
