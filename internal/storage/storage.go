// Package storage defines the adapter interfaces every other component
// programs against: a relational store for structured entities, a cache for
// counters/locks/pub-sub, plus the VectorStore and BlobStore interfaces
// defined in the vectorstore and blobstore subpackages.
package storage

import (
	"context"
	"time"

	"ragcore/internal/domain"
	"ragcore/internal/storage/blobstore"
	"ragcore/internal/storage/vectorstore"
)

// VectorStore is re-exported here so callers that only need the storage
// package's interfaces don't also need to import the subpackage directly.
type VectorStore = vectorstore.VectorStore

// BlobStore is re-exported for the same reason as VectorStore.
type BlobStore = blobstore.BlobStore

// Relational is the structured-data store backing knowledge bases,
// documents, chunks, chats, API keys and webhooks. Implementations: an
// in-memory store for tests and a pgx-backed store for production.
type Relational interface {
	CreateKnowledgeBase(ctx context.Context, kb domain.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (domain.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context, tenantID string) ([]domain.KnowledgeBase, error)
	// TransitionKBStatus atomically moves a KB from expected to next status,
	// returning false (no error) if the current status no longer matches
	// expected -- the optimistic-concurrency guard the training coordinator
	// relies on to avoid racing itself across workers.
	TransitionKBStatus(ctx context.Context, id string, expected, next domain.KBStatus, errorReason string) (bool, error)
	// UpdateKBProgress persists the current training progress counters so a
	// status read reflects an in-flight run, not just its terminal state.
	UpdateKBProgress(ctx context.Context, id string, processedDocs, totalDocs int, progress float64) error
	DeleteKnowledgeBase(ctx context.Context, id string) error

	CreateMembership(ctx context.Context, m domain.Membership) error
	GetMembership(ctx context.Context, userID, kbID string) (domain.Membership, bool, error)
	ListMemberships(ctx context.Context, kbID string) ([]domain.Membership, error)
	DeleteMembership(ctx context.Context, userID, kbID string) error

	CreateDocument(ctx context.Context, doc domain.Document) error
	GetDocumentByHash(ctx context.Context, kbID, hash string) (domain.Document, bool, error)
	UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus) error
	ListDocuments(ctx context.Context, kbID string) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ListChunks(ctx context.Context, kbID string) ([]domain.Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	EnsureChat(ctx context.Context, chat domain.Chat) (domain.Chat, error)
	GetChat(ctx context.Context, id string) (domain.Chat, error)
	ListChats(ctx context.Context, tenantID string) ([]domain.Chat, error)
	SetChatDeleted(ctx context.Context, id string, deleted bool) (domain.Chat, error)
	AppendMessage(ctx context.Context, msg domain.ChatMessage) error
	ListMessages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error)

	CreateAPIKey(ctx context.Context, key domain.ApiKey) error
	GetAPIKey(ctx context.Context, id string) (domain.ApiKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]domain.ApiKey, error)
	RevokeAPIKey(ctx context.Context, id string) error

	CreateWebhook(ctx context.Context, wh domain.Webhook) error
	GetWebhook(ctx context.Context, id string) (domain.Webhook, error)
	ListWebhooksForEvent(ctx context.Context, tenantID string, event domain.WebhookEvent) ([]domain.Webhook, error)
	CreateDelivery(ctx context.Context, d domain.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, d domain.WebhookDelivery) error
	ListDueDeliveries(ctx context.Context, before time.Time, limit int) ([]domain.WebhookDelivery, error)

	Close() error
}

// Cache provides key/value entries, counters, sliding windows, locks and
// pub/sub channels; its callers are the API-key rate limiter and the
// retrieval query cache.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error

	// SlidingWindowHit records one event at now under key, evicts events
	// older than now-window, and returns the count remaining in the window
	// and resetAt, the time the oldest remaining event leaves the window
	// -- the primitive a true rolling rate-limit window needs instead of
	// Incr's fixed-bucket counting.
	SlidingWindowHit(ctx context.Context, key string, now time.Time, window time.Duration) (count int64, resetAt time.Time, err error)

	// AcquireLock sets key to hold iff it is currently unset, with ttl expiry.
	// Returns false if another holder currently has the lock.
	AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, holder string) error

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)

	Close() error
}
