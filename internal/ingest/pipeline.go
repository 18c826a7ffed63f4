package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
	"ragcore/internal/storage/blobstore"
	"ragcore/internal/util"
)

// Pipeline stages uploaded documents and, separately, extracts, cleans and
// chunks them. Staging happens synchronously in the upload request; the
// extract/clean/chunk work happens later, driven one document at a time by
// the training coordinator, so a slow or huge document can't block the
// HTTP handler and so it participates in training's cancellation.
type Pipeline struct {
	relational storage.Relational
	blobs      storage.BlobStore
	clean      CleanOptions
	chunk      ChunkOptions
}

// New creates a Pipeline over the given stores with default cleaning and
// chunking parameters.
func New(relational storage.Relational, blobs storage.BlobStore) *Pipeline {
	return &Pipeline{
		relational: relational,
		blobs:      blobs,
		clean:      DefaultCleanOptions(),
		chunk:      DefaultChunkOptions(),
	}
}

// WithChunkOptions overrides the chunking strategy, e.g. MarkdownChunkOptions
// or CodeChunkOptions for a document whose content type calls for it.
func (p *Pipeline) WithChunkOptions(opts ChunkOptions) *Pipeline {
	clone := *p
	clone.chunk = opts
	return &clone
}

// Input describes one document submission.
type Input struct {
	KnowledgeBaseID string
	SourceURI       string
	ContentType     string
	Raw             []byte
}

// Result summarizes a completed ingestion.
type Result struct {
	Document domain.Document
	Chunks   []domain.Chunk
	Deduped  bool // true if an identical document already existed and was reused
}

// Stage records a document upload: it hashes and persists the raw bytes
// and creates the Document row in DocumentStatusPending, but does not
// extract, clean or chunk it. Duplicate content (same KB, same content
// hash) is detected before any work and returns the existing document
// with Deduped=true, matching the content-addressed dedup invariant
// ingestion relies on to stay idempotent across retries.
func (p *Pipeline) Stage(ctx context.Context, in Input) (Result, error) {
	hash := contentHash(in.Raw)

	if existing, ok, err := p.relational.GetDocumentByHash(ctx, in.KnowledgeBaseID, hash); err != nil {
		return Result{}, err
	} else if ok {
		chunks, err := p.relational.ListChunks(ctx, in.KnowledgeBaseID)
		if err != nil {
			return Result{}, err
		}
		return Result{Document: existing, Chunks: filterByDocument(chunks, existing.ID), Deduped: true}, nil
	}

	if p.blobs != nil {
		key := blobKey(in.KnowledgeBaseID, hash)
		if _, err := p.blobs.Put(ctx, key, bytes.NewReader(in.Raw), blobstore.PutOptions{ContentType: in.ContentType}); err != nil {
			return Result{}, err
		}
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:              uuid.NewString(),
		KnowledgeBaseID: in.KnowledgeBaseID,
		Source:          in.SourceURI,
		URL:             in.SourceURI,
		ContentHash:     hash,
		Status:          domain.DocumentStatusPending,
		Version:         1,
		SizeBytes:       int64(len(in.Raw)),
		MimeType:        in.ContentType,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.relational.CreateDocument(ctx, doc); err != nil {
		return Result{}, err
	}

	return Result{Document: doc}, nil
}

// Process extracts, cleans and chunks a staged document, transitioning it
// pending -> parsing -> chunked. Called once per pending document by the
// training coordinator, never from the HTTP upload path.
func (p *Pipeline) Process(ctx context.Context, doc domain.Document) ([]domain.Chunk, error) {
	if p.blobs == nil {
		return nil, ragerr.New(ragerr.Configuration, "ingest_no_blobstore", "document processing requires a blob store")
	}
	if err := p.relational.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentStatusParsing); err != nil {
		return nil, err
	}

	rc, _, err := p.blobs.Get(ctx, blobKey(doc.KnowledgeBaseID, doc.ContentHash))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, err
	}

	extracted, err := Extract(raw, doc.MimeType, doc.Source)
	if err != nil {
		return nil, err
	}
	cleaned := Clean(extracted.Text, p.clean)
	if cleaned == "" {
		return nil, ragerr.New(ragerr.Validation, "ingest_empty_after_clean", "document contained no extractable text")
	}

	pieces := Chunk(cleaned, p.chunk)
	chunks := make([]domain.Chunk, len(pieces))
	for i, text := range pieces {
		meta := map[string]string{}
		if extracted.Title != "" {
			meta["title"] = extracted.Title
		}
		chunks[i] = domain.Chunk{
			ID:              uuid.NewString(),
			DocumentID:      doc.ID,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			Index:           i,
			Text:            text,
			TokenCount:      util.CountTokens(text),
			Metadata:        meta,
		}
	}
	if err := p.relational.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return nil, err
	}
	if err := p.relational.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentStatusChunked); err != nil {
		return nil, err
	}

	return chunks, nil
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func blobKey(kbID, hash string) string {
	return "documents/" + kbID + "/" + hash
}

func filterByDocument(chunks []domain.Chunk, documentID string) []domain.Chunk {
	out := chunks[:0]
	for _, c := range chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return append([]domain.Chunk(nil), out...)
}
