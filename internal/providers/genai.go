package providers

import (
	"context"

	"google.golang.org/genai"

	"ragcore/internal/ragerr"
)

// Genai is an Embedder and ChatCompleter backed by Google's Gemini models.
type Genai struct {
	client     *genai.Client
	embedModel string
	chatModel  string
	dimension  int
}

// NewGenai creates a Genai provider using an API-key client (as opposed to
// Vertex AI service-account auth, which is out of scope here).
func NewGenai(ctx context.Context, apiKey, embedModel, chatModel string, dimension int) (*Genai, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Configuration, "genai_client", err)
	}
	return &Genai{client: client, embedModel: embedModel, chatModel: chatModel, dimension: dimension}, nil
}

func (g *Genai) Name() string   { return "genai:" + g.embedModel }
func (g *Genai) Dimension() int { return g.dimension }

func (g *Genai) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, nil)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "genai_embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, ragerr.New(ragerr.ProviderError, "genai_embed_count_mismatch", "embedding count did not match input count")
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (g *Genai) Ping(ctx context.Context) error {
	_, err := g.EmbedBatch(ctx, []string{"ping"})
	return err
}

func (g *Genai) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	var contents []*genai.Content
	var systemInstr *genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			systemInstr = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	if systemInstr != nil {
		cfg = &genai.GenerateContentConfig{SystemInstruction: systemInstr}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel, contents, cfg)
	if err != nil {
		return "", ragerr.Wrap(ragerr.ProviderError, "genai_complete", err)
	}
	return resp.Text(), nil
}

var _ Embedder = (*Genai)(nil)
var _ ChatCompleter = (*Genai)(nil)
