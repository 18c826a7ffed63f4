package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"ragcore/internal/observability"
	"ragcore/internal/ragerr"
)

// WeightedRerank re-sorts by a linear blend of the fusion score already on
// each item and a lexical-overlap signal against the query, without calling
// out to any external model. It is the zero-dependency default.
type WeightedRerank struct {
	FusionWeight  float64
	OverlapWeight float64
}

// NewWeightedRerank creates a WeightedRerank with the given component
// weights (not required to sum to 1; they are applied as a linear blend).
func NewWeightedRerank(fusionWeight, overlapWeight float64) *WeightedRerank {
	return &WeightedRerank{FusionWeight: fusionWeight, OverlapWeight: overlapWeight}
}

func (r *WeightedRerank) Name() string { return "weighted_score" }

func (r *WeightedRerank) Rerank(ctx context.Context, query string, items []RetrievedItem) ([]RetrievedItem, error) {
	qTerms := tokenize(query)
	out := make([]RetrievedItem, len(items))
	copy(out, items)

	scored := make([]float64, len(out))
	for i, it := range out {
		overlap := termOverlap(qTerms, tokenize(it.Text))
		scored[i] = r.FusionWeight*it.Score + r.OverlapWeight*overlap
	}

	sort.SliceStable(out, func(i, j int) bool {
		if scored[i] != scored[j] {
			return scored[i] > scored[j]
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func tokenize(s string) map[string]int {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]int, len(fields))
	for _, f := range fields {
		out[f]++
	}
	return out
}

func termOverlap(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var shared int
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

// CrossEncoder reranks by delegating to an HTTP cross-encoder service that
// accepts {query, passages[]} and returns per-passage relevance scores.
type CrossEncoder struct {
	client   *http.Client
	endpoint string
}

// NewCrossEncoder creates a CrossEncoder reranker targeting endpoint.
func NewCrossEncoder(endpoint string) *CrossEncoder {
	return &CrossEncoder{client: observability.NewHTTPClient(&http.Client{Timeout: 10 * time.Second}), endpoint: endpoint}
}

func (r *CrossEncoder) Name() string { return "cross_encoder" }

type crossEncoderRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type crossEncoderResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *CrossEncoder) Rerank(ctx context.Context, query string, items []RetrievedItem) ([]RetrievedItem, error) {
	passages := make([]string, len(items))
	for i, it := range items {
		passages[i] = it.Text
	}

	body, err := json.Marshal(crossEncoderRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "cross_encoder_marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "cross_encoder_request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "cross_encoder_http", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "cross_encoder_read", err)
	}

	var parsed crossEncoderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "cross_encoder_unmarshal", err)
	}
	if len(parsed.Scores) != len(items) {
		return nil, ragerr.New(ragerr.ProviderError, "cross_encoder_count_mismatch", "score count did not match passage count")
	}

	out := make([]RetrievedItem, len(items))
	copy(out, items)
	for i := range out {
		out[i].Score = parsed.Scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var _ Reranker = (*WeightedRerank)(nil)
var _ Reranker = (*CrossEncoder)(nil)
