package relmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
)

func TestKBStatusTransitionIsOptimistic(t *testing.T) {
	ctx := context.Background()
	s := New()
	kb := domain.KnowledgeBase{ID: "kb1", TenantID: "t1", Status: domain.KBStatusInit, CreatedAt: time.Now()}
	require.NoError(t, s.CreateKnowledgeBase(ctx, kb))

	ok, err := s.TransitionKBStatus(ctx, "kb1", domain.KBStatusInit, domain.KBStatusQueued, "")
	require.NoError(t, err)
	require.True(t, ok)

	// stale expected status is rejected, not an error
	ok, err = s.TransitionKBStatus(ctx, "kb1", domain.KBStatusInit, domain.KBStatusQueued, "")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.GetKnowledgeBase(ctx, "kb1")
	require.NoError(t, err)
	require.Equal(t, domain.KBStatusQueued, got.Status)
	require.Equal(t, int64(1), got.Version)
}

func TestDuplicateDocumentContentRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc := domain.Document{ID: "d1", KnowledgeBaseID: "kb1", ContentHash: "abc"}
	require.NoError(t, s.CreateDocument(ctx, doc))

	err := s.CreateDocument(ctx, domain.Document{ID: "d2", KnowledgeBaseID: "kb1", ContentHash: "abc"})
	require.Error(t, err)
	require.True(t, ragerr.Is(err, ragerr.DuplicateContent))

	// same hash, different KB is fine
	require.NoError(t, s.CreateDocument(ctx, domain.Document{ID: "d3", KnowledgeBaseID: "kb2", ContentHash: "abc"}))
}

func TestChatMessagesAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := New()
	chat, err := s.EnsureChat(ctx, domain.Chat{ID: "c1", TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, "c1", chat.ID)

	require.NoError(t, s.AppendMessage(ctx, domain.ChatMessage{ID: "m1", ChatID: "c1", Role: domain.RoleUser, Content: "hi"}))
	require.NoError(t, s.AppendMessage(ctx, domain.ChatMessage{ID: "m2", ChatID: "c1", Role: domain.RoleAssistant, Content: "hello"}))

	msgs, err := s.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
}

func TestListDueDeliveriesOrdersByNextAttempt(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.CreateDelivery(ctx, domain.WebhookDelivery{ID: "d1", Status: domain.DeliveryPending, NextAttempt: now.Add(2 * time.Minute)}))
	require.NoError(t, s.CreateDelivery(ctx, domain.WebhookDelivery{ID: "d2", Status: domain.DeliveryPending, NextAttempt: now.Add(1 * time.Minute)}))
	require.NoError(t, s.CreateDelivery(ctx, domain.WebhookDelivery{ID: "d3", Status: domain.DeliveryDelivered, NextAttempt: now}))

	due, err := s.ListDueDeliveries(ctx, now.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "d2", due[0].ID)
}
