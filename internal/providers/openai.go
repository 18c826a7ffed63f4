package providers

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"ragcore/internal/ragerr"
)

// OpenAI is both an Embedder and a ChatCompleter backed by the OpenAI API
// (or any OpenAI-compatible endpoint reachable via option.WithBaseURL).
type OpenAI struct {
	client       openai.Client
	embedModel   string
	chatModel    string
	dimension    int
}

// NewOpenAI creates an OpenAI provider. Either embedModel or chatModel may
// be left blank if that half of the interface pair will not be used.
func NewOpenAI(apiKey, embedModel, chatModel string, dimension int) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{client: client, embedModel: embedModel, chatModel: chatModel, dimension: dimension}
}

func (o *OpenAI) Name() string   { return "openai:" + o.embedModel }
func (o *OpenAI) Dimension() int { return o.dimension }

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ProviderError, "openai_embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, ragerr.New(ragerr.ProviderError, "openai_embed_count_mismatch", "embedding count did not match input count")
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			v[j] = float32(f)
		}
		out[i] = v
	}
	return out, nil
}

func (o *OpenAI) Ping(ctx context.Context) error {
	_, err := o.EmbedBatch(ctx, []string{"ping"})
	return err
}

func (o *OpenAI) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.chatModel),
		Messages: msgs,
	})
	if err != nil {
		return "", ragerr.Wrap(ragerr.ProviderError, "openai_complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", ragerr.New(ragerr.ProviderError, "openai_no_choices", "provider returned no completion choices")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Embedder = (*OpenAI)(nil)
var _ ChatCompleter = (*OpenAI)(nil)
