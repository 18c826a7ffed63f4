package ragchat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
	"ragcore/internal/providers"
	"ragcore/internal/retrieve"
)

type fakeChatCompleter struct {
	lastMessages []providers.ChatMessage
	reply        string
}

func (f *fakeChatCompleter) Complete(ctx context.Context, messages []providers.ChatMessage) (string, error) {
	f.lastMessages = messages
	return f.reply, nil
}

func (f *fakeChatCompleter) Name() string { return "fake" }

func TestReplyInManualModeSkipsRetrieval(t *testing.T) {
	chatCompleter := &fakeChatCompleter{reply: "hi"}
	engineCalls := 0
	c := New(func(ctx context.Context, kbID string) (*retrieve.Engine, error) {
		engineCalls++
		return nil, nil
	}, chatCompleter)

	chat := domain.Chat{Mode: domain.ChatModeManual, KnowledgeBaseIDs: []string{"kb-1"}}
	reply, err := c.Reply(context.Background(), chat, nil, "hello")
	require.NoError(t, err)
	require.Equal(t, "hi", reply)
	require.Equal(t, 0, engineCalls)
	for _, m := range chatCompleter.lastMessages {
		require.NotEqual(t, "system", m.Role)
	}
}

func TestReplyInAutoModeSkipsContextWhenNoEngineAvailable(t *testing.T) {
	chatCompleter := &fakeChatCompleter{reply: "hi"}
	c := New(func(ctx context.Context, kbID string) (*retrieve.Engine, error) {
		return nil, nil
	}, chatCompleter)

	chat := domain.Chat{Mode: domain.ChatModeAuto, KnowledgeBaseIDs: []string{"kb-1"}}
	_, err := c.Reply(context.Background(), chat, nil, "hello")
	require.NoError(t, err)
	require.Len(t, chatCompleter.lastMessages, 1)
	require.Equal(t, "user", chatCompleter.lastMessages[0].Role)
}

func TestBuildContextPromptNumbersPassages(t *testing.T) {
	prompt := buildContextPrompt([]retrieve.Fused{{ID: "a", Text: "alpha"}, {ID: "b", Text: "beta"}})
	require.Contains(t, prompt, "[1] alpha")
	require.Contains(t, prompt, "[2] beta")
}
