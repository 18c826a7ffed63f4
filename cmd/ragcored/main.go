// Command ragcored is the process entrypoint for the multi-tenant RAG
// backend: it loads configuration, wires every storage and provider
// backend, starts the training coordinator and webhook dispatcher, and
// serves the HTTP API until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ragcore/internal/api"
	"ragcore/internal/apikey"
	"ragcore/internal/chatsession"
	"ragcore/internal/config"
	"ragcore/internal/domain"
	"ragcore/internal/events"
	"ragcore/internal/indexbuilder"
	"ragcore/internal/ingest"
	"ragcore/internal/kbindex"
	"ragcore/internal/observability"
	"ragcore/internal/providers"
	"ragcore/internal/ragchat"
	"ragcore/internal/retrieve"
	"ragcore/internal/storage"
	"ragcore/internal/storage/blobstore"
	"ragcore/internal/storage/memcache"
	"ragcore/internal/storage/postgres"
	"ragcore/internal/storage/redisx"
	"ragcore/internal/storage/relmemory"
	"ragcore/internal/storage/vectorstore"
	"ragcore/internal/training"
	"ragcore/internal/version"
	"ragcore/internal/webhook"
)

func main() {
	configPath := flag.String("config", config.EnvOverride("RAGCORE_CONFIG", "config.yaml"), "path to the YAML config file")
	addr := flag.String("addr", config.EnvOverride("RAGCORE_ADDR", ":8080"), "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err) // logger isn't up yet; nothing to log through
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	log.Info().Str("version", version.Version).Msg("ragcored: starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTel)
	if err != nil {
		log.Fatal().Err(err).Msg("ragcored: init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("ragcored: tracing shutdown")
		}
	}()

	relational, closeRelational, err := openRelational(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("ragcored: open relational store")
	}
	defer closeRelational()

	cache, closeCache, err := openCache(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("ragcored: open cache")
	}
	defer closeCache()

	blobs, err := blobstore.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("ragcored: open blob store")
	}

	embedder, err := providers.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("ragcored: construct embedder")
	}
	chatCompleter, err := providers.NewChatCompleter(ctx, cfg.Embedding, cfg.Embedding.Model)
	if err != nil {
		log.Fatal().Err(err).Msg("ragcored: construct chat completer")
	}
	reranker, err := providers.NewReranker(cfg.Rerank)
	if err != nil {
		log.Fatal().Err(err).Msg("ragcored: construct reranker")
	}

	sharedVectors, err := vectorstore.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("ragcored: open vector store")
	}
	registry := newRegistry(relational, cfg.Storage, sharedVectors)

	pipeline := ingest.New(relational, blobs).WithChunkOptions(chunkOptionsFor(cfg.Ingestion))

	retrievalOpts := retrieve.Options{
		DefaultK:       cfg.Retrieval.DefaultK,
		MaxK:           cfg.Retrieval.MaxK,
		Alpha:          cfg.Retrieval.Alpha,
		RRFK:           cfg.Retrieval.RRFK,
		FusionMode:     cfg.Retrieval.FusionMode,
		Diversify:      cfg.Retrieval.Diversify,
		MaxPerDocument: 3,
		CacheTTL:       cfg.Retrieval.CacheTTL,
	}
	engineFor := func(ctx context.Context, kbID string) (*retrieve.Engine, error) {
		kb, err := relational.GetKnowledgeBase(ctx, kbID)
		if err != nil {
			return nil, err
		}
		if kb.Status != domain.KBStatusReady {
			return nil, nil
		}
		entry, err := registry.Get(ctx, kbID)
		if err != nil {
			return nil, err
		}
		return retrieve.New(embedder, entry.Vectors, entry.Lex, reranker, cache, entry.TextByID, retrievalOpts), nil
	}

	indexBuilderOpts := indexbuilder.DefaultOptions()
	indexBuilderOpts.BatchSize = cfg.Embedding.BatchSize
	indexBuilderOpts.MaxRetries = cfg.Embedding.MaxRetries
	indexBuilderOpts.BaseBackoff = cfg.Embedding.BaseBackoff
	indexBuilderOpts.MaxBackoff = cfg.Embedding.MaxBackoff

	coordinator := training.New(relational, pipeline, cfg.Training.MaxWorkers, cfg.Training.QueueCapacity, func(kbID string) (*indexbuilder.Builder, error) {
		registry.Invalidate(kbID)
		entry, err := registry.Get(ctx, kbID)
		if err != nil {
			return nil, err
		}
		return indexbuilder.New(embedder, entry.Vectors, entry.Lex, indexBuilderOpts), nil
	})
	coordinator.Start(ctx)
	defer coordinator.Stop()

	ragCompleter := ragchat.New(engineFor, chatCompleter)
	chats := chatsession.NewManager(relational, ragCompleter, cfg.Chat.IdleTimeout)
	defer chats.CloseAll()
	stopReaper := chats.StartReaper(ctx, cfg.Chat.ReapInterval)
	defer stopReaper()

	bus := events.New()
	kafkaPub := events.NewKafkaPublisher(events.KafkaConfig{
		Enabled: cfg.Webhook.UseKafka,
		Brokers: cfg.Webhook.KafkaBrokers,
		Topic:   cfg.Webhook.KafkaTopic,
	})
	stopKafkaBridge := events.BridgeToKafka(bus, kafkaPub,
		events.TopicKBStatusChanged, events.TopicDocumentIngested,
		events.TopicTrainingProgress, events.TopicChatMessageCreated)
	defer func() {
		stopKafkaBridge()
		kafkaPub.Close()
	}()

	dispatcher := webhook.New(relational, webhook.RetryPolicy{
		BaseBackoff: cfg.Webhook.BaseBackoff,
		MaxBackoff:  cfg.Webhook.MaxBackoff,
		MaxAttempts: cfg.Webhook.MaxAttempts,
	}, cfg.Webhook.Workers, cfg.Webhook.SignatureHeader)
	stopWebhookLoop := runWebhookLoop(ctx, dispatcher)
	defer stopWebhookLoop()

	issuer := apikey.New(relational)
	limiter := apikey.NewRateLimiter(cache, cfg.APIKey.RateLimitWindow)

	server := api.NewServer(api.Dependencies{
		Relational:  relational,
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

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the chat websocket endpoint holds connections open
	}

	serveErrs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *addr).Msg("ragcored: listening")
		serveErrs <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("ragcored: shutdown signal received")
	case err := <-serveErrs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ragcored: server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ragcored: graceful shutdown failed")
	}
}

// openRelational selects the Postgres-backed store when a DSN is
// configured, falling back to the in-memory store for local development
// and tests.
func openRelational(ctx context.Context, cfg config.StorageConfig) (storage.Relational, func(), error) {
	if cfg.PostgresDSN == "" {
		store := relmemory.New()
		return store, func() { _ = store.Close() }, nil
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, func() {}, err
	}
	return store, func() { _ = store.Close() }, nil
}

// openCache selects the Redis-backed cache when a DSN is configured,
// falling back to the in-memory cache otherwise.
func openCache(ctx context.Context, cfg config.StorageConfig) (storage.Cache, func(), error) {
	if cfg.RedisDSN == "" {
		store := memcache.New()
		return store, func() { _ = store.Close() }, nil
	}
	store, err := redisx.Open(ctx, cfg.RedisDSN)
	if err != nil {
		return nil, func() {}, err
	}
	return store, func() { _ = store.Close() }, nil
}

// newRegistry shares one VectorStore across every knowledge base when the
// backend isolates by metadata filter (Postgres, Qdrant); the in-memory
// backend has no such filter, so each knowledge base gets its own.
func newRegistry(relational storage.Relational, cfg config.StorageConfig, shared vectorstore.VectorStore) *kbindex.Registry {
	if cfg.VectorStoreKind == "" || cfg.VectorStoreKind == "memory" {
		return kbindex.New(relational, nil, func() storage.VectorStore { return vectorstore.NewMemory() })
	}
	return kbindex.New(relational, shared, nil)
}

func chunkOptionsFor(cfg config.IngestionConfig) ingest.ChunkOptions {
	var opts ingest.ChunkOptions
	switch cfg.ChunkStrategy {
	case "markdown":
		opts = ingest.MarkdownChunkOptions()
	case "code":
		opts = ingest.CodeChunkOptions()
	default:
		opts = ingest.DefaultChunkOptions()
	}
	if cfg.ChunkSize > 0 {
		opts.MaxChunkSize = cfg.ChunkSize
	}
	if cfg.ChunkOverlap > 0 {
		opts.Overlap = cfg.ChunkOverlap
	}
	return opts
}

func runWebhookLoop(ctx context.Context, dispatcher *webhook.Dispatcher) func() {
	ticker := time.NewTicker(5 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := dispatcher.RunDue(ctx, 50); err != nil {
					log.Error().Err(err).Msg("ragcored: webhook dispatch pass failed")
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		<-done
	}
}
