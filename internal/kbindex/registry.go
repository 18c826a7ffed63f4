// Package kbindex owns the per-knowledge-base vector and lexical index
// instances that the training coordinator and the retrieval engine both
// need. A pgvector- or Qdrant-backed VectorStore is shared across every
// knowledge base (isolation comes from a kb_id metadata filter on every
// call), but the in-process BM25 lexical index has no such filter, so one
// *lexical.Index is kept per knowledge base, built lazily and cached.
package kbindex

import (
	"context"
	"sync"

	"ragcore/internal/lexical"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
)

// Entry bundles the indexes and chunk-text lookup one knowledge base's
// index builder and retrieval engine both operate over.
type Entry struct {
	Vectors  storage.VectorStore
	Lex      *lexical.Index
	TextByID map[string]string
}

// Registry lazily builds and caches one Entry per knowledge base ID.
type Registry struct {
	relational storage.Relational
	vectors    storage.VectorStore // shared across KBs; nil if each KB needs its own (memory backend)
	newVectors func() storage.VectorStore

	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates a Registry. If vectors is non-nil it is shared by every
// knowledge base (the Postgres and Qdrant backends isolate by metadata
// filter); otherwise newVectors is called once per knowledge base to
// construct an isolated store (the in-memory backend has no filter, so
// each KB needs its own instance).
func New(relational storage.Relational, vectors storage.VectorStore, newVectors func() storage.VectorStore) *Registry {
	return &Registry{
		relational: relational,
		vectors:    vectors,
		newVectors: newVectors,
		entries:    make(map[string]*Entry),
	}
}

// Get returns the cached Entry for kbID, or builds one by replaying that
// knowledge base's chunks into a fresh lexical index.
func (r *Registry) Get(ctx context.Context, kbID string) (*Entry, error) {
	r.mu.Lock()
	if e, ok := r.entries[kbID]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	chunks, err := r.relational.ListChunks(ctx, kbID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.DatabaseError, "kbindex_list_chunks", err)
	}

	lex := lexical.New(lexical.DefaultParams())
	textByID := make(map[string]string, len(chunks))
	for _, c := range chunks {
		lex.Upsert(c.ID, c.Text)
		textByID[c.ID] = c.Text
	}

	vectors := r.vectors
	if vectors == nil {
		vectors = r.newVectors()
	}

	e := &Entry{Vectors: vectors, Lex: lex, TextByID: textByID}

	r.mu.Lock()
	r.entries[kbID] = e
	r.mu.Unlock()

	return e, nil
}

// Invalidate drops the cached Entry for kbID, forcing the next Get to
// rebuild it from current storage. Callers invoke this when a knowledge
// base's documents change and before each training build, so stale
// text/BM25 state from a prior version never serves queries.
func (r *Registry) Invalidate(kbID string) {
	r.mu.Lock()
	delete(r.entries, kbID)
	r.mu.Unlock()
}
