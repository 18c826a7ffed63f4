package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragcore/internal/observability"
	"ragcore/internal/ragerr"
)

// HTTP is an Embedder that speaks an OpenAI-compatible /embeddings HTTP API,
// for self-hosted or third-party embedding servers that aren't one of the
// first-class SDK-backed providers.
type HTTP struct {
	client    *http.Client
	endpoint  string
	model     string
	dimension int
	apiKey    string
	headers   map[string]string
}

// HTTPOption configures an HTTP embedder at construction time.
type HTTPOption func(*HTTP)

// WithHeaders sets additional headers sent on every request.
func WithHeaders(h map[string]string) HTTPOption {
	return func(e *HTTP) { e.headers = h }
}

// NewHTTP creates an Embedder backed by endpoint, using apiKey as a Bearer
// token unless overridden via WithHeaders.
func NewHTTP(endpoint, model string, dimension int, apiKey string, opts ...HTTPOption) *HTTP {
	e := &HTTP{
		client:    observability.NewHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		endpoint:  endpoint,
		model:     model,
		dimension: dimension,
		apiKey:    apiKey,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *HTTP) Name() string   { return "http:" + e.model }
func (e *HTTP) Dimension() int { return e.dimension }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTP) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "embed_marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Internal, "embed_request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "embed_http", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "embed_read_body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ragerr.New(ragerr.ProviderError, "embed_status", fmt.Sprintf("embedding provider returned %d: %s", resp.StatusCode, string(raw)))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "embed_unmarshal", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, ragerr.New(ragerr.ProviderError, "embed_count_mismatch",
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Data)))
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *HTTP) Ping(ctx context.Context) error {
	_, err := e.EmbedBatch(ctx, []string{"ping"})
	return err
}

var _ Embedder = (*HTTP)(nil)
