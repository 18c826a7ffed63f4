// Package ragchat implements chatsession.Completer by grounding a chat
// completion in retrieval results pulled from the chat's knowledge bases
// before delegating to a providers.ChatCompleter.
package ragchat

import (
	"context"
	"fmt"
	"strings"

	"ragcore/internal/chatsession"
	"ragcore/internal/domain"
	"ragcore/internal/providers"
	"ragcore/internal/retrieve"
)

const (
	defaultContextK = 6
	maxContextChars = 6000
)

// EngineFor resolves the retrieval engine for one knowledge base. Returning
// (nil, nil) skips retrieval for that knowledge base (e.g. it is not yet
// ready) without failing the whole turn.
type EngineFor func(ctx context.Context, knowledgeBaseID string) (*retrieve.Engine, error)

// Completer grounds chat replies in retrieved passages from the chat's
// knowledge bases when its mode calls for it, and always passes the
// running history to the underlying completer.
type Completer struct {
	engineFor EngineFor
	chat      providers.ChatCompleter
	contextK  int
}

// New creates a Completer. chat answers the final, possibly-grounded
// prompt; engineFor supplies the per-knowledge-base retrieval engine.
func New(engineFor EngineFor, chat providers.ChatCompleter) *Completer {
	return &Completer{engineFor: engineFor, chat: chat, contextK: defaultContextK}
}

// Reply implements chatsession.Completer.
func (c *Completer) Reply(ctx context.Context, chat domain.Chat, history []domain.ChatMessage, userMessage string) (string, error) {
	var passages []retrieve.Fused
	if chat.Mode == domain.ChatModeAuto || chat.Mode == domain.ChatModeMixed {
		passages = c.retrieveContext(ctx, chat.KnowledgeBaseIDs, userMessage)
	}

	messages := make([]providers.ChatMessage, 0, len(history)+2)
	if len(passages) > 0 {
		messages = append(messages, providers.ChatMessage{Role: "system", Content: buildContextPrompt(passages)})
	}
	for _, m := range history {
		messages = append(messages, providers.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, providers.ChatMessage{Role: string(domain.RoleUser), Content: userMessage})

	return c.chat.Complete(ctx, messages)
}

func (c *Completer) retrieveContext(ctx context.Context, kbIDs []string, query string) []retrieve.Fused {
	var all []retrieve.Fused
	for _, kbID := range kbIDs {
		engine, err := c.engineFor(ctx, kbID)
		if err != nil || engine == nil {
			continue
		}
		results, err := engine.Search(ctx, retrieve.Query{KnowledgeBaseID: kbID, Text: query, Mode: retrieve.ModeHybrid, K: c.contextK})
		if err != nil {
			continue
		}
		all = append(all, results...)
	}
	return all
}

func buildContextPrompt(passages []retrieve.Fused) string {
	var b strings.Builder
	b.WriteString("Answer using the following retrieved context when relevant. Cite passage numbers in brackets, e.g. [1].\n\n")
	for i, p := range passages {
		entry := fmt.Sprintf("[%d] %s\n\n", i+1, p.Text)
		if b.Len()+len(entry) > maxContextChars {
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

var _ chatsession.Completer = (*Completer)(nil)
