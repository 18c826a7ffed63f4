// Package indexbuilder turns a knowledge base's chunks into a queryable
// index: it batches chunk text through an Embedder, retrying transient
// provider failures with exponential backoff, upserts the resulting
// vectors into a VectorStore, and upserts the raw text into a lexical
// BM25 index for the keyword half of hybrid retrieval.
package indexbuilder

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"ragcore/internal/domain"
	"ragcore/internal/lexical"
	"ragcore/internal/providers"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage/vectorstore"
)

// Options configures batching and retry behavior.
type Options struct {
	BatchSize   int
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultOptions mirrors the embedding config defaults: 3 attempts total,
// jittered exponential backoff between them.
func DefaultOptions() Options {
	return Options{BatchSize: 64, MaxRetries: 3, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second}
}

// Builder drives embedding + indexing for one knowledge base's chunks.
type Builder struct {
	embedder providers.Embedder
	vectors  vectorstore.VectorStore
	lex      *lexical.Index
	opts     Options
}

// New creates a Builder targeting the given vector store and lexical
// index, using embedder for vectorization.
func New(embedder providers.Embedder, vectors vectorstore.VectorStore, lex *lexical.Index, opts Options) *Builder {
	return &Builder{embedder: embedder, vectors: vectors, lex: lex, opts: opts}
}

// Progress reports incremental completion during Build, for the training
// coordinator's ETA estimator.
type Progress struct {
	Processed int
	Total     int
}

// Build embeds and indexes every chunk, invoking onProgress after each
// batch completes. It stops at the first batch that exhausts retries.
func (b *Builder) Build(ctx context.Context, chunks []domain.Chunk, onProgress func(Progress)) error {
	total := len(chunks)
	processed := 0

	for start := 0; start < total; start += b.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + b.opts.BatchSize
		if end > total {
			end = total
		}
		batch := chunks[start:end]

		if err := b.indexBatch(ctx, batch); err != nil {
			return err
		}

		processed += len(batch)
		if onProgress != nil {
			onProgress(Progress{Processed: processed, Total: total})
		}
	}
	return nil
}

func (b *Builder) indexBatch(ctx context.Context, batch []domain.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := b.embedWithRetry(ctx, texts)
	if err != nil {
		return err
	}

	for i, c := range batch {
		b.lex.Upsert(c.ID, c.Text)
		if err := b.vectors.Upsert(ctx, c.ID, vectors[i], chunkMetadata(c)); err != nil {
			return ragerr.Wrap(ragerr.VectorStoreError, "indexbuilder_upsert", err)
		}
	}
	return nil
}

func chunkMetadata(c domain.Chunk) map[string]string {
	meta := make(map[string]string, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta["document_id"] = c.DocumentID
	return meta
}

// embedWithRetry calls the embedder, retrying transient provider errors
// with exponential backoff capped at MaxBackoff and jittered by 0.1-0.5s
// per attempt so many KBs retrying at once don't thunder against the
// provider in lockstep.
func (b *Builder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := b.opts.BaseBackoff

	for attempt := 1; attempt <= b.opts.MaxRetries; attempt++ {
		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == b.opts.MaxRetries {
			break
		}

		wait := backoff + jitter(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("indexbuilder: embedding batch failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > b.opts.MaxBackoff {
			backoff = b.opts.MaxBackoff
		}
	}
	return nil, ragerr.Wrap(ragerr.ProviderError, "indexbuilder_embed_exhausted", lastErr)
}

// jitter returns a random delay drawn from [0.1s, 0.5s) and scaled by
// 2^attempt, added on top of the base exponential backoff for that attempt.
func jitter(attempt int) time.Duration {
	scale := 1 << uint(attempt)
	spread := 100*time.Millisecond + time.Duration(rand.Int63n(int64(400*time.Millisecond)))
	return spread * time.Duration(scale)
}

func isRetryable(err error) bool {
	var re *ragerr.Error
	if errors.As(err, &re) {
		switch re.Kind {
		case ragerr.Validation, ragerr.UnsupportedFormat, ragerr.Configuration:
			return false
		}
	}
	return true
}
