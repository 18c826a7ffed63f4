// Package domain defines the entities shared across storage, ingestion,
// training, retrieval, chat and webhook components.
package domain

import "time"

// KBStatus is the lifecycle state of a KnowledgeBase.
type KBStatus string

const (
	KBStatusInit     KBStatus = "init"
	KBStatusQueued   KBStatus = "queued"
	KBStatusTraining KBStatus = "training"
	KBStatusReady    KBStatus = "ready"
	KBStatusError    KBStatus = "error"
	KBStatusStopped  KBStatus = "stopped"
)

// User is an account that owns or is a member of one or more knowledge bases.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// MembershipRole scopes what a member can do within a knowledge base.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "owner"
	RoleAdmin  MembershipRole = "admin"
	RoleEditor MembershipRole = "editor"
	RoleViewer MembershipRole = "viewer"
)

// Level returns the role's position in the viewer < editor < admin < owner
// total order, for permission checks that require "at least this role".
func (r MembershipRole) Level() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Allows reports whether r satisfies a requirement of at least min.
func (r MembershipRole) Allows(min MembershipRole) bool {
	return r.Level() >= min.Level()
}

// Membership links a User to a KnowledgeBase with a role.
type Membership struct {
	UserID         string
	KnowledgeBaseID string
	Role           MembershipRole
	CreatedAt      time.Time
}

// LLMConfig pins the generation model and parameters a KnowledgeBase's chats
// use when answering with retrieved context.
type LLMConfig struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// KnowledgeBase is a tenant-scoped collection of documents, backed by a
// vector index and a lexical index, progressing through KBStatus states.
type KnowledgeBase struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	Status      KBStatus
	Version     int64
	ErrorReason string

	// TrainingProgress is the fraction, in [0,1], of documents processed by
	// the current (or most recent) training run.
	TrainingProgress float64
	ProcessedDocs    int
	TotalDocs        int

	LLMConfig      LLMConfig
	ExampleQueries []string
	EntityTypes    []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStatus tracks a document's position in the ingestion pipeline.
type DocumentStatus string

const (
	DocumentStatusPending DocumentStatus = "pending"
	DocumentStatusParsing DocumentStatus = "parsing"
	DocumentStatusChunked DocumentStatus = "chunked"
	DocumentStatusIndexed DocumentStatus = "indexed"
	DocumentStatusFailed  DocumentStatus = "failed"
)

// Document is a single ingested source within a KnowledgeBase.
type Document struct {
	ID              string
	KnowledgeBaseID string
	Source          string
	URL             string
	ContentHash     string
	Status          DocumentStatus
	Version         int
	SizeBytes       int64
	MimeType        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Chunk is a contiguous span of a Document's cleaned text, the unit that
// gets embedded and indexed.
type Chunk struct {
	ID              string
	DocumentID      string
	KnowledgeBaseID string
	Index           int
	Text            string
	TokenCount      int
	Metadata        map[string]string
}

// Embedding is the vector representation of a Chunk as produced by a
// specific provider/model pair.
type Embedding struct {
	ChunkID   string
	Model     string
	Dimension int
	Vector    []float32
}

// ChatMode controls how a Chat decides whether to retrieve context before
// answering.
type ChatMode string

const (
	ChatModeAuto   ChatMode = "auto"
	ChatModeManual ChatMode = "manual"
	ChatModeMixed  ChatMode = "mixed"
)

// Chat is a conversation scoped to one or more knowledge bases.
type Chat struct {
	ID               string
	TenantID         string
	KnowledgeBaseIDs []string
	Mode             ChatMode
	Title            string
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MessageRole is who produced a ChatMessage.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ChatMessage is a single turn within a Chat.
type ChatMessage struct {
	ID        string
	ChatID    string
	Role      MessageRole
	Content   string
	Citations []string
	CreatedAt time.Time
}

// ApiKeyScope enumerates the operations an ApiKey is allowed to perform.
type ApiKeyScope string

const (
	ScopeIngest   ApiKeyScope = "ingest"
	ScopeRetrieve ApiKeyScope = "retrieve"
	ScopeChat     ApiKeyScope = "chat"
	ScopeAdmin    ApiKeyScope = "admin"
)

// ApiKey authenticates external callers against one tenant.
type ApiKey struct {
	ID         string
	TenantID   string
	Name       string
	SecretHash string
	Scopes     []ApiKeyScope
	RateLimit  int // requests per window
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// WebhookEvent names the event types a Webhook subscription can receive.
type WebhookEvent string

const (
	EventKBStatusChanged    WebhookEvent = "kb.status_changed"
	EventDocumentIngested   WebhookEvent = "document.ingested"
	EventTrainingCompleted  WebhookEvent = "training.completed"
	EventTrainingFailed     WebhookEvent = "training.failed"
	EventChatMessageCreated WebhookEvent = "chat.message_created"
)

// Webhook is a tenant-registered delivery target for domain events.
type Webhook struct {
	ID        string
	TenantID  string
	URL       string
	Secret    string
	Events    []WebhookEvent
	Active    bool
	CreatedAt time.Time
}

// DeliveryStatus tracks a single webhook delivery attempt sequence.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookDelivery is one (possibly retried) attempt to deliver an event to a
// Webhook.
type WebhookDelivery struct {
	ID          string
	WebhookID   string
	Event       WebhookEvent
	Payload     []byte
	Metadata    map[string]string
	Status      DeliveryStatus
	Attempts    int
	NextAttempt time.Time
	LastError   string
	CreatedAt   time.Time
}
