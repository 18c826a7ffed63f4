// Package api wires the knowledge-base, document, retrieval, chat,
// webhook and API-key operations onto a stdlib net/http ServeMux. No
// routing library is pulled in: Go 1.22's method-and-wildcard mux
// patterns cover every route this service needs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ragcore/internal/apikey"
	"ragcore/internal/chatsession"
	"ragcore/internal/domain"
	"ragcore/internal/events"
	"ragcore/internal/ingest"
	"ragcore/internal/kbindex"
	"ragcore/internal/retrieve"
	"ragcore/internal/storage"
	"ragcore/internal/training"
	"ragcore/internal/webhook"
)

// RetrieveEngineFor builds or fetches the retrieval engine for one
// knowledge base, wired to that KB's index registry entry.
type RetrieveEngineFor func(ctx context.Context, knowledgeBaseID string) (*retrieve.Engine, error)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	relational  storage.Relational
	cache       storage.Cache
	pipeline    *ingest.Pipeline
	coordinator *training.Coordinator
	registry    *kbindex.Registry
	engineFor   RetrieveEngineFor
	chats       *chatsession.Manager
	dispatcher  *webhook.Dispatcher
	issuer      *apikey.Issuer
	limiter     *apikey.RateLimiter
	bus         *events.Bus
	upgrader    websocket.Upgrader

	mux *http.ServeMux
}

// Dependencies bundles the constructor arguments for Server, kept as a
// struct since the list is long and every field is required.
type Dependencies struct {
	Relational  storage.Relational
	Cache       storage.Cache
	Pipeline    *ingest.Pipeline
	Coordinator *training.Coordinator
	Registry    *kbindex.Registry
	EngineFor   RetrieveEngineFor
	Chats       *chatsession.Manager
	Dispatcher  *webhook.Dispatcher
	Issuer      *apikey.Issuer
	Limiter     *apikey.RateLimiter
	Bus         *events.Bus
}

// NewServer builds a Server and registers every route on its ServeMux.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		relational:  deps.Relational,
		cache:       deps.Cache,
		pipeline:    deps.Pipeline,
		coordinator: deps.Coordinator,
		registry:    deps.Registry,
		engineFor:   deps.EngineFor,
		chats:       deps.Chats,
		dispatcher:  deps.Dispatcher,
		issuer:      deps.Issuer,
		limiter:     deps.Limiter,
		bus:         deps.Bus,
		upgrader:    websocket.Upgrader{HandshakeTimeout: 10 * time.Second},
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler by delegating to the internal mux
// wrapped in the request-logging and recovery middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	withLogging(withRecover(s.mux)).ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/knowledge-bases", s.withAuth(domain.ScopeIngest, s.createKnowledgeBase))
	s.mux.HandleFunc("GET /v1/knowledge-bases", s.withAuth(domain.ScopeRetrieve, s.listKnowledgeBases))
	s.mux.HandleFunc("GET /v1/knowledge-bases/{id}", s.withAuth(domain.ScopeRetrieve, s.getKnowledgeBase))
	s.mux.HandleFunc("DELETE /v1/knowledge-bases/{id}", s.withAuth(domain.ScopeAdmin, s.deleteKnowledgeBase))
	s.mux.HandleFunc("GET /v1/knowledge-bases/{id}/status", s.withAuth(domain.ScopeRetrieve, s.getKnowledgeBaseStatus))
	s.mux.HandleFunc("POST /v1/knowledge-bases/{id}/train", s.withAuth(domain.ScopeIngest, s.trainKnowledgeBase))
	s.mux.HandleFunc("POST /v1/knowledge-bases/{id}/train/stop", s.withAuth(domain.ScopeIngest, s.stopTraining))

	s.mux.HandleFunc("POST /v1/knowledge-bases/{id}/documents", s.withAuth(domain.ScopeIngest, s.ingestDocument))
	s.mux.HandleFunc("GET /v1/knowledge-bases/{id}/documents", s.withAuth(domain.ScopeRetrieve, s.listDocuments))
	s.mux.HandleFunc("DELETE /v1/knowledge-bases/{id}/documents/{docID}", s.withAuth(domain.ScopeIngest, s.deleteDocument))

	s.mux.HandleFunc("POST /v1/knowledge-bases/{id}/query", s.withAuth(domain.ScopeRetrieve, s.query))

	s.mux.HandleFunc("POST /v1/chats", s.withAuth(domain.ScopeChat, s.createChat))
	s.mux.HandleFunc("GET /v1/chats/{id}/messages", s.withAuth(domain.ScopeChat, s.listMessages))
	s.mux.HandleFunc("GET /v1/chats/{id}/ws", s.withAuth(domain.ScopeChat, s.chatWebsocket))
	s.mux.HandleFunc("POST /v1/chats/{id}/switch_mode", s.withAuth(domain.ScopeChat, s.switchChatMode))
	s.mux.HandleFunc("DELETE /v1/chats/{id}", s.withAuth(domain.ScopeChat, s.deleteChat))
	s.mux.HandleFunc("POST /v1/chats/{id}/restore", s.withAuth(domain.ScopeChat, s.restoreChat))

	s.mux.HandleFunc("POST /v1/webhooks", s.withAuth(domain.ScopeAdmin, s.createWebhook))

	s.mux.HandleFunc("POST /v1/api-keys", s.withAuth(domain.ScopeAdmin, s.createAPIKey))
	s.mux.HandleFunc("DELETE /v1/api-keys/{id}", s.withAuth(domain.ScopeAdmin, s.revokeAPIKey))

	s.mux.HandleFunc("GET /healthz", s.health)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
