package chatsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
)

type fakeCompleter struct {
	reply string
}

func (f *fakeCompleter) Reply(ctx context.Context, chat domain.Chat, history []domain.ChatMessage, userMessage string) (string, error) {
	return f.reply, nil
}

func TestHubAutoModeAppendsUserAndAssistantMessages(t *testing.T) {
	var persisted []domain.ChatMessage
	chat := domain.Chat{ID: "chat-1", Mode: domain.ChatModeAuto}

	h := NewHub(chat, &fakeCompleter{reply: "hi there"}, nil, func(ctx context.Context, msg domain.ChatMessage) error {
		persisted = append(persisted, msg)
		return nil
	})
	defer h.Close()

	h.inbound <- inboundMessage{text: "hello"}

	require.Eventually(t, func() bool {
		return len(persisted) == 2
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, domain.RoleUser, persisted[0].Role)
	require.Equal(t, domain.RoleAssistant, persisted[1].Role)
	require.Equal(t, "hi there", persisted[1].Content)
}

func TestHubManualModeSkipsCompletion(t *testing.T) {
	var persisted []domain.ChatMessage
	chat := domain.Chat{ID: "chat-2", Mode: domain.ChatModeManual}

	h := NewHub(chat, &fakeCompleter{reply: "should not appear"}, nil, func(ctx context.Context, msg domain.ChatMessage) error {
		persisted = append(persisted, msg)
		return nil
	})
	defer h.Close()

	h.inbound <- inboundMessage{text: "hello"}

	require.Eventually(t, func() bool {
		return len(persisted) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, domain.RoleUser, persisted[0].Role)
}
