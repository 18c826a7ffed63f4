// Package config loads the process configuration from YAML with environment
// overrides, mirroring the layering used throughout the codebase: a typed
// struct tree, strict decoding, and defaults applied (and logged) once.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"ragcore/internal/observability"
)

// StorageConfig points at the backing stores. VectorStoreKind selects which
// VectorStore implementation internal/storage/vectorstore wires up.
type StorageConfig struct {
	PostgresDSN     string   `yaml:"postgres_dsn"`
	RedisDSN        string   `yaml:"redis_dsn"`
	VectorStoreKind string   `yaml:"vector_store_kind"` // memory | postgres | qdrant
	VectorStoreDSN  string   `yaml:"vector_store_dsn"`
	VectorDimension int      `yaml:"vector_dimension"`
	BlobStoreKind   string   `yaml:"blob_store_kind"` // memory | s3
	S3              S3Config `yaml:"s3"`
}

// S3Config configures the S3-compatible blob store backend.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint"`
	Prefix                string      `yaml:"prefix"`
	AccessKey             string      `yaml:"access_key"`
	SecretKey             string      `yaml:"secret_key"`
	UsePathStyle          bool        `yaml:"use_path_style"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// S3SSEConfig configures server-side encryption for the S3 backend.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", sse-s3, sse-kms
	KMSKeyID string `yaml:"kms_key_id"`
}

// IngestionConfig controls the extract/clean/chunk/persist pipeline.
type IngestionConfig struct {
	MaxFileSizeBytes int64         `yaml:"max_file_size_bytes"`
	AllowedMimeTypes []string      `yaml:"allowed_mime_types"`
	ChunkSize        int           `yaml:"chunk_size"`
	ChunkOverlap     int           `yaml:"chunk_overlap"`
	ChunkStrategy    string        `yaml:"chunk_strategy"` // recursive | markdown | code
	MinLineLength    int           `yaml:"min_line_length"`
	MaxLineLength    int           `yaml:"max_line_length"`
	ExtractTimeout   time.Duration `yaml:"extract_timeout"`
}

// EmbeddingConfig controls the embedding provider and batching.
type EmbeddingConfig struct {
	Provider     string        `yaml:"provider"` // anthropic | openai | genai | http
	Model        string        `yaml:"model"`
	Dimension    int           `yaml:"dimension"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseBackoff  time.Duration `yaml:"base_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	APIKey       string        `yaml:"api_key"`
	Endpoint     string        `yaml:"endpoint"`
	CacheEnabled bool          `yaml:"cache_enabled"`
}

// RerankConfig controls the optional rerank stage of retrieval.
type RerankConfig struct {
	Mode     string `yaml:"mode"` // weighted_score | cross_encoder
	Endpoint string `yaml:"endpoint"`
	TopN     int    `yaml:"top_n"`
}

// TrainingConfig controls the bounded-concurrency training coordinator.
type TrainingConfig struct {
	MaxWorkers     int           `yaml:"max_workers"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	ChunkBatchSize int           `yaml:"chunk_batch_size"`
	ProgressWindow int           `yaml:"progress_window"`
	StallTimeout   time.Duration `yaml:"stall_timeout"`
}

// RetrievalConfig controls hybrid retrieval: fusion, cache, defaults.
type RetrievalConfig struct {
	DefaultK      int           `yaml:"default_k"`
	MaxK          int           `yaml:"max_k"`
	Alpha         float64       `yaml:"alpha"` // weight of keyword vs vector, 0..1
	RRFK          int           `yaml:"rrf_k"`
	FusionMode    string        `yaml:"fusion_mode"` // rrf | weighted_minmax
	Diversify     bool          `yaml:"diversify"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheCapacity int           `yaml:"cache_capacity"`
}

// ChatConfig controls the websocket chat session manager.
type ChatConfig struct {
	MaxConnectionsPerChat int           `yaml:"max_connections_per_chat"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	PingInterval          time.Duration `yaml:"ping_interval"`
	SendBufferSize        int           `yaml:"send_buffer_size"`
	DefaultMode           string        `yaml:"default_mode"` // auto | manual | mixed
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	ReapInterval          time.Duration `yaml:"reap_interval"`
}

// WebhookConfig controls the signed, retrying webhook dispatcher.
type WebhookConfig struct {
	Workers         int           `yaml:"workers"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SignatureHeader string        `yaml:"signature_header"`
	UseKafka        bool          `yaml:"use_kafka"`
	KafkaBrokers    []string      `yaml:"kafka_brokers"`
	KafkaTopic      string        `yaml:"kafka_topic"`
}

// APIKeyConfig controls API-key issuance, scoping and rate limiting.
type APIKeyConfig struct {
	DefaultRateLimitPerMinute int           `yaml:"default_rate_limit_per_minute"`
	HashCost                  int           `yaml:"hash_cost"`
	RateLimitWindow           time.Duration `yaml:"rate_limit_window"`
}

// OTelConfig configures process tracing.
type OTelConfig = observability.TracingConfig

// Config is the root configuration tree; every component reads its own
// sub-struct. Unknown YAML fields are rejected by Load.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`

	Storage   StorageConfig   `yaml:"storage"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Training  TrainingConfig  `yaml:"training"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	APIKey    APIKeyConfig    `yaml:"api_key"`
	OTel      OTelConfig      `yaml:"otel"`
}

// applyDefaults fills in zero-valued fields with documented defaults and
// logs each one, the way a freshly started process should.
func applyDefaults(c *Config) {
	def := func(name string, cond bool, apply func()) {
		if cond {
			apply()
			log.Info().Str("field", name).Msg("config: applying default")
		}
	}

	def("log_level", c.LogLevel == "", func() { c.LogLevel = "info" })
	def("storage.vector_store_kind", c.Storage.VectorStoreKind == "", func() { c.Storage.VectorStoreKind = "memory" })
	def("storage.blob_store_kind", c.Storage.BlobStoreKind == "", func() { c.Storage.BlobStoreKind = "memory" })
	def("storage.vector_dimension", c.Storage.VectorDimension == 0, func() { c.Storage.VectorDimension = 1536 })

	def("ingestion.chunk_size", c.Ingestion.ChunkSize == 0, func() { c.Ingestion.ChunkSize = 1000 })
	def("ingestion.chunk_overlap", c.Ingestion.ChunkOverlap == 0, func() { c.Ingestion.ChunkOverlap = 200 })
	def("ingestion.chunk_strategy", c.Ingestion.ChunkStrategy == "", func() { c.Ingestion.ChunkStrategy = "recursive" })
	def("ingestion.max_file_size_bytes", c.Ingestion.MaxFileSizeBytes == 0, func() { c.Ingestion.MaxFileSizeBytes = 25 * 1024 * 1024 })
	def("ingestion.min_line_length", c.Ingestion.MinLineLength == 0, func() { c.Ingestion.MinLineLength = 2 })
	def("ingestion.max_line_length", c.Ingestion.MaxLineLength == 0, func() { c.Ingestion.MaxLineLength = 4000 })
	def("ingestion.extract_timeout", c.Ingestion.ExtractTimeout == 0, func() { c.Ingestion.ExtractTimeout = 30 * time.Second })

	def("embedding.batch_size", c.Embedding.BatchSize == 0, func() { c.Embedding.BatchSize = 64 })
	def("embedding.max_retries", c.Embedding.MaxRetries == 0, func() { c.Embedding.MaxRetries = 3 })
	def("embedding.base_backoff", c.Embedding.BaseBackoff == 0, func() { c.Embedding.BaseBackoff = 500 * time.Millisecond })
	def("embedding.max_backoff", c.Embedding.MaxBackoff == 0, func() { c.Embedding.MaxBackoff = 30 * time.Second })

	def("rerank.mode", c.Rerank.Mode == "", func() { c.Rerank.Mode = "weighted_score" })
	def("rerank.top_n", c.Rerank.TopN == 0, func() { c.Rerank.TopN = 20 })

	def("training.max_workers", c.Training.MaxWorkers == 0, func() { c.Training.MaxWorkers = 4 })
	def("training.queue_capacity", c.Training.QueueCapacity == 0, func() { c.Training.QueueCapacity = 64 })
	def("training.chunk_batch_size", c.Training.ChunkBatchSize == 0, func() { c.Training.ChunkBatchSize = 32 })
	def("training.progress_window", c.Training.ProgressWindow == 0, func() { c.Training.ProgressWindow = 20 })
	def("training.stall_timeout", c.Training.StallTimeout == 0, func() { c.Training.StallTimeout = 5 * time.Minute })

	def("retrieval.default_k", c.Retrieval.DefaultK == 0, func() { c.Retrieval.DefaultK = 10 })
	def("retrieval.max_k", c.Retrieval.MaxK == 0, func() { c.Retrieval.MaxK = 1000 })
	def("retrieval.alpha", c.Retrieval.Alpha == 0, func() { c.Retrieval.Alpha = 0.5 })
	def("retrieval.rrf_k", c.Retrieval.RRFK == 0, func() { c.Retrieval.RRFK = 60 })
	def("retrieval.fusion_mode", c.Retrieval.FusionMode == "", func() { c.Retrieval.FusionMode = "rrf" })
	def("retrieval.cache_ttl", c.Retrieval.CacheTTL == 0, func() { c.Retrieval.CacheTTL = 5 * time.Minute })
	def("retrieval.cache_capacity", c.Retrieval.CacheCapacity == 0, func() { c.Retrieval.CacheCapacity = 1000 })

	def("chat.max_connections_per_chat", c.Chat.MaxConnectionsPerChat == 0, func() { c.Chat.MaxConnectionsPerChat = 8 })
	def("chat.write_timeout", c.Chat.WriteTimeout == 0, func() { c.Chat.WriteTimeout = 10 * time.Second })
	def("chat.read_timeout", c.Chat.ReadTimeout == 0, func() { c.Chat.ReadTimeout = 60 * time.Second })
	def("chat.ping_interval", c.Chat.PingInterval == 0, func() { c.Chat.PingInterval = 30 * time.Second })
	def("chat.send_buffer_size", c.Chat.SendBufferSize == 0, func() { c.Chat.SendBufferSize = 32 })
	def("chat.default_mode", c.Chat.DefaultMode == "", func() { c.Chat.DefaultMode = "auto" })
	def("chat.idle_timeout", c.Chat.IdleTimeout == 0, func() { c.Chat.IdleTimeout = time.Hour })
	def("chat.reap_interval", c.Chat.ReapInterval == 0, func() { c.Chat.ReapInterval = time.Minute })

	def("webhook.workers", c.Webhook.Workers == 0, func() { c.Webhook.Workers = 8 })
	def("webhook.max_attempts", c.Webhook.MaxAttempts == 0, func() { c.Webhook.MaxAttempts = 5 })
	def("webhook.base_backoff", c.Webhook.BaseBackoff == 0, func() { c.Webhook.BaseBackoff = 60 * time.Second })
	def("webhook.max_backoff", c.Webhook.MaxBackoff == 0, func() { c.Webhook.MaxBackoff = time.Hour })
	def("webhook.request_timeout", c.Webhook.RequestTimeout == 0, func() { c.Webhook.RequestTimeout = 10 * time.Second })
	def("webhook.signature_header", c.Webhook.SignatureHeader == "", func() { c.Webhook.SignatureHeader = "X-Signature" })

	def("api_key.default_rate_limit_per_minute", c.APIKey.DefaultRateLimitPerMinute == 0, func() { c.APIKey.DefaultRateLimitPerMinute = 60 })
	def("api_key.hash_cost", c.APIKey.HashCost == 0, func() { c.APIKey.HashCost = 10 })
	def("api_key.rate_limit_window", c.APIKey.RateLimitWindow == 0, func() { c.APIKey.RateLimitWindow = time.Hour })

	def("otel.service_name", c.OTel.ServiceName == "", func() { c.OTel.ServiceName = "ragcore" })
}

// Load reads filename as strict YAML (unknown fields are rejected) and
// applies defaults. A sibling .env file, if present, is loaded into the
// process environment first so EnvOverride calls in main can see it.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	applyDefaults(&c)
	return &c, nil
}

// EnvOverride looks up key in the environment and returns it when set and
// non-blank; otherwise returns def. Used by main to layer a handful of
// operational overrides (ports, DSNs) on top of the YAML file.
func EnvOverride(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// EnvOverrideInt is EnvOverride for integer-valued environment overrides.
func EnvOverrideInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
