// Package ingest persists finalized message text into the vector store
// for future retrieval. Work happens on a single background worker so
// the turn that produced a message is never blocked: jobs are processed
// strictly in enqueue order, one at a time.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inkwell-ai/quill/internal/vector"
)

// Embedder generates an embedding for a piece of text.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Job is one ingestion unit: the finalized text of a user or assistant
// message. Jobs are immutable after creation and consumed exactly once.
type Job struct {
	ID        string
	UserID    string
	RoomID    string
	MessageID string
	Role      string
	Text      string
	CreatedAt time.Time
}

// NewJob builds a job for a finalized message.
func NewJob(userID, roomID, messageID, role, text string) Job {
	return Job{
		ID:        ulid.Make().String(),
		UserID:    userID,
		RoomID:    roomID,
		MessageID: messageID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// Options tune the queue's chunking.
type Options struct {
	ChunkWords   int // Words per chunk (default 120)
	OverlapWords int // Overlapping words between chunks (default 20)
}

// Queue is the embedding ingestion queue. The FIFO buffer is mutated
// only under its mutex; a single dedicated worker started by Run is the
// only consumer, so the one-at-a-time invariant is structural.
type Queue struct {
	store    vector.Store
	embedder Embedder
	opts     Options
	logger   *slog.Logger

	mu   sync.Mutex
	fifo []Job
	wake chan struct{}
}

// NewQueue creates an ingestion queue.
func NewQueue(store vector.Store, embedder Embedder, opts Options, logger *slog.Logger) *Queue {
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = 120
	}
	if opts.OverlapWords < 0 {
		opts.OverlapWords = 0
	}
	if opts.OverlapWords >= opts.ChunkWords {
		opts.OverlapWords = opts.ChunkWords / 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With("component", "ingest"),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue appends the job to the FIFO and wakes the worker. Never
// blocks the caller.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	q.fifo = append(q.fifo, job)
	depth := len(q.fifo)
	q.mu.Unlock()

	q.logger.Debug("job enqueued", "job", job.ID, "room", job.RoomID, "depth", depth)

	select {
	case q.wake <- struct{}{}:
	default:
		// Worker is already signalled.
	}
}

// Pending returns the number of jobs waiting in the FIFO.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

// Run consumes jobs until ctx is done. It is the queue's only consumer;
// call it exactly once, typically in its own goroutine.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			q.drain(ctx)
		}
	}
}

// drain processes queued jobs in FIFO order until the buffer is empty
// or ctx is cancelled. A job failure is logged and does not halt the
// queue; the next job is attempted.
func (q *Queue) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		if len(q.fifo) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.fifo[0]
		q.fifo = q.fifo[1:]
		q.mu.Unlock()

		if err := q.process(ctx, job); err != nil {
			q.logger.Warn("ingestion job failed",
				"job", job.ID,
				"room", job.RoomID,
				"error", err)
		}
	}
}

// process chunks, embeds, tags, and upserts one job as a single batch
// into the owning user's namespace.
func (q *Queue) process(ctx context.Context, job Job) error {
	chunks := ChunkWords(job.Text, q.opts.ChunkWords, q.opts.OverlapWords)
	if len(chunks) == 0 {
		return nil
	}

	items := make([]vector.Item, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := q.embedder.Generate(ctx, chunk)
		if err != nil {
			// Failed chunk embeddings are skipped, not retried.
			q.logger.Debug("chunk embedding failed, skipping",
				"job", job.ID, "error", err)
			continue
		}
		if len(vec) == 0 {
			continue
		}

		items = append(items, vector.Item{
			ID:     chunkID(job.UserID, chunk),
			Vector: vec,
			Metadata: vector.Metadata{
				Text:         chunk,
				Role:         job.Role,
				RoomID:       job.RoomID,
				IsProfile:    IsProfileText(chunk),
				IsPreference: IsPreferenceText(chunk),
			},
		})
	}

	if len(items) == 0 {
		return nil
	}

	if err := q.store.Upsert(ctx, vector.UserNamespace(job.UserID), items); err != nil {
		return fmt.Errorf("upsert %d chunks: %w", len(items), err)
	}

	q.logger.Debug("job ingested", "job", job.ID, "chunks", len(items))
	return nil
}

// chunkID derives a stable id from the owning user and chunk content,
// so re-ingesting identical text overwrites rather than duplicates.
func chunkID(userID, chunk string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + chunk))
	return hex.EncodeToString(sum[:16])
}
