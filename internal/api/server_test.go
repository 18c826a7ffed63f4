package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragcore/internal/apikey"
	"ragcore/internal/chatsession"
	"ragcore/internal/domain"
	"ragcore/internal/events"
	"ragcore/internal/indexbuilder"
	"ragcore/internal/ingest"
	"ragcore/internal/kbindex"
	"ragcore/internal/providers"
	"ragcore/internal/retrieve"
	"ragcore/internal/storage/blobstore"
	"ragcore/internal/storage/memcache"
	"ragcore/internal/storage/relmemory"
	"ragcore/internal/storage/vectorstore"
	"ragcore/internal/training"
	"ragcore/internal/webhook"
)

type fakeChatCompleter struct{}

func (fakeChatCompleter) Reply(ctx context.Context, chat domain.Chat, history []domain.ChatMessage, userMessage string) (string, error) {
	return "ack: " + userMessage, nil
}

func newTestServer(t *testing.T) (*Server, *apikey.Issuer, *relmemory.Store) {
	t.Helper()

	rel := relmemory.New()
	cache := memcache.New()
	blobs := blobstore.NewMemoryStore()
	embedder := providers.NewDeterministic(8, true, 1)
	sharedVectors := vectorstore.NewMemory()

	registry := kbindex.New(rel, sharedVectors, nil)
	pipeline := ingest.New(rel, blobs)

	coordinator := training.New(rel, pipeline, 2, 8, func(kbID string) (*indexbuilder.Builder, error) {
		registry.Invalidate(kbID)
		entry, err := registry.Get(context.Background(), kbID)
		if err != nil {
			return nil, err
		}
		return indexbuilder.New(embedder, entry.Vectors, entry.Lex, indexbuilder.DefaultOptions()), nil
	})
	coordinator.Start(context.Background())
	t.Cleanup(coordinator.Stop)

	issuer := apikey.New(rel)
	limiter := apikey.NewRateLimiter(cache, 0)
	dispatcher := webhook.New(rel, webhook.DefaultRetryPolicy(), 2, "")
	chats := chatsession.NewManager(rel, fakeChatCompleter{}, 0)
	bus := events.New()

	engineFor := func(ctx context.Context, kbID string) (*retrieve.Engine, error) {
		entry, err := registry.Get(ctx, kbID)
		if err != nil {
			return nil, err
		}
		return retrieve.New(embedder, entry.Vectors, entry.Lex, nil, cache, entry.TextByID, retrieve.DefaultOptions()), nil
	}

	srv := NewServer(Dependencies{
		Relational:  rel,
		Cache:       cache,
		Pipeline:    pipeline,
		Coordinator: coordinator,
		Registry:    registry,
		EngineFor:   engineFor,
		Chats:       chats,
		Dispatcher:  dispatcher,
		Issuer:      issuer,
		Limiter:     limiter,
		Bus:         bus,
	})
	return srv, issuer, rel
}

func TestCreateAndGetKnowledgeBaseRoundTrips(t *testing.T) {
	srv, issuer, _ := newTestServer(t)
	ctx := context.Background()

	issued, err := issuer.Create(ctx, "tenant-1", "admin", []domain.ApiKeyScope{domain.ScopeAdmin}, 0)
	require.NoError(t, err)

	body, _ := json.Marshal(createKnowledgeBaseRequest{Name: "docs"})
	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases", bytes.NewReader(body))
	req.Header.Set("Authorization", "ApiKey "+issued.Key.ID+":"+issued.Token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var kb domain.KnowledgeBase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kb))
	require.Equal(t, "docs", kb.Name)
	require.Equal(t, "tenant-1", kb.TenantID)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/knowledge-bases/"+kb.ID, nil)
	getReq.Header.Set("Authorization", "ApiKey "+issued.Key.ID+":"+issued.Token)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestRequestWithoutAuthorizationIsRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/knowledge-bases", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetKnowledgeBaseFromOtherTenantReturnsNotFound(t *testing.T) {
	srv, issuer, rel := newTestServer(t)
	ctx := context.Background()

	kb := domain.KnowledgeBase{ID: "kb-1", TenantID: "tenant-a", Name: "a", Status: domain.KBStatusInit}
	require.NoError(t, rel.CreateKnowledgeBase(ctx, kb))

	issued, err := issuer.Create(ctx, "tenant-b", "reader", []domain.ApiKeyScope{domain.ScopeRetrieve}, 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/knowledge-bases/kb-1", nil)
	req.Header.Set("Authorization", "ApiKey "+issued.Key.ID+":"+issued.Token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrainThenQueryReturnsIngestedChunk(t *testing.T) {
	srv, issuer, rel := newTestServer(t)
	ctx := context.Background()

	issued, err := issuer.Create(ctx, "tenant-1", "admin", []domain.ApiKeyScope{domain.ScopeAdmin, domain.ScopeIngest, domain.ScopeRetrieve}, 0)
	require.NoError(t, err)
	auth := "ApiKey " + issued.Key.ID + ":" + issued.Token

	kb := domain.KnowledgeBase{ID: "kb-1", TenantID: "tenant-1", Name: "docs", Status: domain.KBStatusInit}
	require.NoError(t, rel.CreateKnowledgeBase(ctx, kb))
	require.NoError(t, rel.ReplaceChunks(ctx, "doc-1", []domain.Chunk{
		{ID: "c1", DocumentID: "doc-1", KnowledgeBaseID: "kb-1", Text: "the quick brown fox"},
	}))

	trainReq := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/train", nil)
	trainReq.Header.Set("Authorization", auth)
	trainRec := httptest.NewRecorder()
	srv.ServeHTTP(trainRec, trainReq)
	require.Equal(t, http.StatusAccepted, trainRec.Code)

	require.Eventually(t, func() bool {
		got, err := rel.GetKnowledgeBase(ctx, "kb-1")
		return err == nil && got.Status == domain.KBStatusReady
	}, 2*time.Second, 10*time.Millisecond)

	queryBody, _ := json.Marshal(queryRequest{Text: "quick fox", Mode: "hybrid"})
	queryReq := httptest.NewRequest(http.MethodPost, "/v1/knowledge-bases/kb-1/query", bytes.NewReader(queryBody))
	queryReq.Header.Set("Authorization", auth)
	queryRec := httptest.NewRecorder()
	srv.ServeHTTP(queryRec, queryReq)
	require.Equal(t, http.StatusOK, queryRec.Code)
}
