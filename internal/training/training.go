// Package training implements the per-knowledge-base training state
// machine and the bounded-concurrency worker pool that drives documents
// for many knowledge bases through ingestion and indexing at once without
// unbounded goroutine growth.
package training

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ragcore/internal/domain"
	"ragcore/internal/indexbuilder"
	"ragcore/internal/ingest"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
)

// Job is one knowledge base's training request.
type Job struct {
	KnowledgeBaseID string
}

// Coordinator owns a bounded worker pool; each worker claims one
// knowledge base at a time, drives its documents through the index
// builder, and transitions its status optimistically so only one worker
// ever drives the same knowledge base concurrently.
type Coordinator struct {
	relational storage.Relational
	pipeline   *ingest.Pipeline
	newBuilder func(kbID string) (*indexbuilder.Builder, error)
	maxWorkers int
	queue      chan Job

	mu        sync.Mutex
	etas      map[string]*etaEstimator
	cancels   map[string]context.CancelFunc
	wg        sync.WaitGroup
	cancelRun context.CancelFunc
}

// New creates a Coordinator. newBuilder constructs the per-KB index
// builder (embedder + vector store + lexical index already wired to the
// right knowledge base) lazily, since each KB may use different storage
// configuration. pipeline drives the extract/clean/chunk step for any
// document still in DocumentStatusPending when a knowledge base trains.
func New(relational storage.Relational, pipeline *ingest.Pipeline, maxWorkers, queueCapacity int, newBuilder func(kbID string) (*indexbuilder.Builder, error)) *Coordinator {
	return &Coordinator{
		relational: relational,
		pipeline:   pipeline,
		newBuilder: newBuilder,
		maxWorkers: maxWorkers,
		queue:      make(chan Job, queueCapacity),
		etas:       make(map[string]*etaEstimator),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(c.maxWorkers)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case job, ok := <-c.queue:
				if !ok {
					_ = g.Wait()
					return
				}
				g.Go(func() error {
					c.runJob(gctx, job)
					return nil
				})
			case <-runCtx.Done():
				_ = g.Wait()
				return
			}
		}
	}()
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (c *Coordinator) Stop() {
	close(c.queue)
	if c.cancelRun != nil {
		defer c.cancelRun()
	}
	c.wg.Wait()
}

// Enqueue submits a knowledge base for training. Returns false if the
// queue is full (the caller should surface ragerr.Overloaded).
func (c *Coordinator) Enqueue(job Job) bool {
	select {
	case c.queue <- job:
		return true
	default:
		return false
	}
}

func (c *Coordinator) runJob(ctx context.Context, job Job) {
	ok, err := c.relational.TransitionKBStatus(ctx, job.KnowledgeBaseID, domain.KBStatusQueued, domain.KBStatusTraining, "")
	if err != nil || !ok {
		return // lost the race to another worker, or KB was not in queued state
	}

	jobCtx, cancel := context.WithCancel(ctx)
	c.registerCancel(job.KnowledgeBaseID, cancel)
	defer c.clearCancel(job.KnowledgeBaseID, cancel)

	est := c.estimatorFor(job.KnowledgeBaseID)
	est.start()

	err = c.train(jobCtx, job.KnowledgeBaseID, est)
	switch {
	case err == nil:
		_, _ = c.relational.TransitionKBStatus(ctx, job.KnowledgeBaseID, domain.KBStatusTraining, domain.KBStatusReady, "")
	case errors.Is(err, context.Canceled):
		_, _ = c.relational.TransitionKBStatus(ctx, job.KnowledgeBaseID, domain.KBStatusTraining, domain.KBStatusStopped, "stopped by request")
	default:
		_, _ = c.relational.TransitionKBStatus(ctx, job.KnowledgeBaseID, domain.KBStatusTraining, domain.KBStatusError, err.Error())
	}
}

// train first drives every DocumentStatusPending document through
// extract/clean/chunk, checking for cancellation between documents, then
// embeds and indexes the resulting chunks. Documents that reach
// DocumentStatusChunked this way (or were already chunked from a prior,
// interrupted run) are marked DocumentStatusIndexed once the index build
// succeeds.
func (c *Coordinator) train(ctx context.Context, kbID string, est *etaEstimator) error {
	docs, err := c.relational.ListDocuments(ctx, kbID)
	if err != nil {
		return err
	}

	var toIndex []string
	for _, doc := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch doc.Status {
		case domain.DocumentStatusPending:
			if _, err := c.pipeline.Process(ctx, doc); err != nil {
				_ = c.relational.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentStatusFailed)
				return err
			}
			toIndex = append(toIndex, doc.ID)
		case domain.DocumentStatusChunked:
			toIndex = append(toIndex, doc.ID)
		}
	}

	chunks, err := c.relational.ListChunks(ctx, kbID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return ragerr.New(ragerr.Validation, "training_no_chunks", "knowledge base has no chunks to train on")
	}

	builder, err := c.newBuilder(kbID)
	if err != nil {
		return err
	}

	total := len(chunks)
	if err := builder.Build(ctx, chunks, func(p indexbuilder.Progress) {
		est.update(p.Processed, p.Total)
		progress := float64(p.Processed) / float64(total)
		_ = c.relational.UpdateKBProgress(ctx, kbID, p.Processed, p.Total, progress)
	}); err != nil {
		return err
	}

	for _, docID := range toIndex {
		_ = c.relational.UpdateDocumentStatus(ctx, docID, domain.DocumentStatusIndexed)
	}
	return nil
}

// StopTraining cancels the in-flight training job for kbID, if any. The
// worker observes the cancellation the next time indexbuilder.Build checks
// ctx.Err() between batches and transitions the knowledge base to
// KBStatusStopped. Returns ragerr.NotFound if no job is running for kbID.
func (c *Coordinator) StopTraining(kbID string) error {
	c.mu.Lock()
	cancel, ok := c.cancels[kbID]
	c.mu.Unlock()
	if !ok {
		return ragerr.New(ragerr.NotFound, "training_not_running", "no training job is running for this knowledge base")
	}
	cancel()
	return nil
}

func (c *Coordinator) registerCancel(kbID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[kbID] = cancel
}

// clearCancel releases jobCtx's resources and removes the registry entry.
// The status machine guarantees only one worker holds KBStatusTraining for
// kbID at a time, so it's safe to unconditionally delete here.
func (c *Coordinator) clearCancel(kbID string, cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, kbID)
}

// ETA returns the coordinator's current estimate of remaining training
// time for kbID, or zero if no job is in flight.
func (c *Coordinator) ETA(kbID string) time.Duration {
	c.mu.Lock()
	est, ok := c.etas[kbID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return est.remaining()
}

func (c *Coordinator) estimatorFor(kbID string) *etaEstimator {
	c.mu.Lock()
	defer c.mu.Unlock()
	est, ok := c.etas[kbID]
	if !ok {
		est = newETAEstimator()
		c.etas[kbID] = est
	}
	return est
}
