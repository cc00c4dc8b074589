package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// Stage names the states an event moves through. Offsets are only committed
// once an event reaches StageCommitted.
type Stage string

const (
	StageReceived   Stage = "Received"
	StageExtracting Stage = "Extracting"
	StageChunking   Stage = "Chunking"
	StageEmbedding  Stage = "Embedding"
	StageUpserting  Stage = "Upserting"
	StageCommitted  Stage = "Committed"
	StageRetrying   Stage = "Retrying"
	StageFailed     Stage = "Failed"
)

// Config tunes the per-event pipeline.
//
// Bucket:         object storage bucket holding the documents.
// EmbedDim:       required vector dimension; anything else is rejected
//                 before upsert.
// EmbedBatchSize: chunks per embedding API call.
// EmbedWorkers:   concurrent embedding calls per document.
// MaxAttempts:    retry budget per stage.
// EventTimeout:   hard deadline for one event, all sub-calls included.
type Config struct {
	Bucket         string
	EmbedDim       int
	EmbedBatchSize int
	EmbedWorkers   int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	EventTimeout   time.Duration
}

// Stats carries the counters surfaced on /stats.
type Stats struct {
	Processed   atomic.Int64
	Failed      atomic.Int64
	ChunksTotal atomic.Int64
}

// Pipeline drives one ingestion event from storage read to index upsert.
// All clients are shared, connection-pooled handles; the pipeline itself
// keeps no mutable state between events, so events may run concurrently.
type Pipeline struct {
	obj       core.ObjectClient
	extractor core.DocumentExtractor
	chunker   *Chunker
	embedder  core.EmbeddingProvider
	index     core.VectorIndex
	dlq       core.DeadLetterSink
	status    core.StatusReporter
	cfg       *Config
	stats     *Stats
}

func NewPipeline(
	obj core.ObjectClient,
	extractor core.DocumentExtractor,
	chunker *Chunker,
	embedder core.EmbeddingProvider,
	index core.VectorIndex,
	dlq core.DeadLetterSink,
	status core.StatusReporter,
	cfg *Config,
) *Pipeline {
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Pipeline{
		obj: obj, extractor: extractor, chunker: chunker, embedder: embedder,
		index: index, dlq: dlq, status: status, cfg: cfg, stats: &Stats{},
	}
}

// Stats exposes the pipeline counters.
func (p *Pipeline) Stats() *Stats { return p.stats }

// procContext tracks one event's trip through the state machine: current
// state and the attempt budget spent per stage.
type procContext struct {
	event    models.IngestionEvent
	state    Stage
	attempts map[Stage]int
}

func (pc *procContext) totalAttempts() int {
	n := 0
	for _, a := range pc.attempts {
		n += a
	}
	return n
}

// ProcessEvent runs the full pipeline for one event. A nil return means the
// event was terminally handled (committed to the index, or dead-lettered)
// and its offset may be committed. A non-nil return means the event must be
// redelivered.
func (p *Pipeline) ProcessEvent(ctx context.Context, ev models.IngestionEvent) error {
	evCtx, cancel := context.WithTimeout(ctx, p.cfg.EventTimeout)
	defer cancel()

	pc := &procContext{event: ev, state: StageReceived, attempts: map[Stage]int{}}

	chunksProcessed, err := p.run(evCtx, pc)
	if err != nil {
		// Shutdown is not a processing failure; leave the offset uncommitted
		// so the event is redelivered.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		p.stats.Failed.Add(1)
		log.Printf("Pipeline: %s failed in stage %s after %d attempts: %v", ev.DocumentRef, pc.state, pc.totalAttempts(), err)
		if dlqErr := p.deadLetter(ctx, pc, err); dlqErr != nil {
			return fmt.Errorf("dead-letter %s: %w", ev.DocumentRef, dlqErr)
		}
		p.reportStatus(ctx, models.StatusMessage{
			DocumentRef: ev.DocumentRef,
			Status:      "failed",
			Error:       err.Error(),
		})
		return nil
	}

	p.stats.Processed.Add(1)
	p.stats.ChunksTotal.Add(int64(chunksProcessed))
	p.reportStatus(ctx, models.StatusMessage{
		DocumentRef:     ev.DocumentRef,
		Status:          "completed",
		ChunksProcessed: chunksProcessed,
	})
	log.Printf("Pipeline: %s committed with %d chunks", ev.DocumentRef, chunksProcessed)
	return nil
}

// run executes the stage sequence and returns the number of chunks upserted.
func (p *Pipeline) run(ctx context.Context, pc *procContext) (int, error) {
	ref := pc.event.DocumentRef

	var doc *models.ExtractedDocument
	err := p.runStage(ctx, pc, StageExtracting, func(ctx context.Context) error {
		raw, err := p.obj.GetFile(ctx, p.cfg.Bucket, ref)
		if err != nil {
			return err
		}
		doc, err = p.extractor.Extract(ctx, ref, raw, pc.event.ContentType)
		return err
	})
	if err != nil {
		return 0, err
	}

	var chunks []models.Chunk
	err = p.runStage(ctx, pc, StageChunking, func(ctx context.Context) error {
		chunks = p.chunker.Split(doc)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		// Nothing to embed; the event still completes.
		pc.state = StageCommitted
		return 0, nil
	}

	var records []models.UpsertRecord
	err = p.runStage(ctx, pc, StageEmbedding, func(ctx context.Context) error {
		var embErr error
		records, embErr = p.embedChunks(ctx, chunks)
		return embErr
	})
	if err != nil {
		return 0, err
	}

	err = p.runStage(ctx, pc, StageUpserting, func(ctx context.Context) error {
		return p.index.UpsertBatch(ctx, records)
	})
	if err != nil {
		return 0, err
	}

	pc.state = StageCommitted
	return len(records), nil
}

// runStage runs fn with the stage's retry budget. Retryable failures loop
// back to the stage entry after a backoff; non-retryable failures and an
// exhausted budget transition to Failed.
func (p *Pipeline) runStage(ctx context.Context, pc *procContext, st Stage, fn func(context.Context) error) error {
	pc.state = st
	for {
		pc.attempts[st]++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !core.Retryable(err) || pc.attempts[st] >= p.cfg.MaxAttempts {
			pc.state = StageFailed
			return err
		}

		pc.state = StageRetrying
		delay := backoffDelay(pc.attempts[st]-1, p.cfg.BaseBackoff, p.cfg.MaxBackoff)
		log.Printf("Pipeline: %s stage %s attempt %d/%d failed, retrying in %s: %v",
			pc.event.DocumentRef, st, pc.attempts[st], p.cfg.MaxAttempts, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			pc.state = StageFailed
			return ctx.Err()
		}
		pc.state = st
	}
}

// embedChunks fans the chunks out over concurrent batched embedding calls
// and waits for all of them before returning (barrier), so a partial chunk
// set is never handed to the upserter. Empty chunks and chunks the model
// refuses are skipped and logged; they never fail the document.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []models.Chunk) ([]models.UpsertRecord, error) {
	keep := chunks[:0:0]
	for _, c := range chunks {
		if c.Text == "" {
			log.Printf("Pipeline: skipping empty chunk %s of %s", c.ID, c.SourceRef)
			continue
		}
		keep = append(keep, c)
	}
	if len(keep) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(keep))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedWorkers)

	batchSize := p.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	for lo := 0; lo < len(keep); lo += batchSize {
		lo := lo
		hi := lo + batchSize
		if hi > len(keep) {
			hi = len(keep)
		}
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := lo; i < hi; i++ {
				texts[i-lo] = keep[i].Text
			}
			vecs, err := p.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				var invalid *core.InvalidInputError
				if errors.As(err, &invalid) {
					// The batch call cannot say which input was refused;
					// redo it one chunk at a time and drop only the
					// rejected ones.
					return p.embedOneByOne(gctx, keep[lo:hi], vectors, lo)
				}
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(texts))
			}
			copy(vectors[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Every chunk maps to exactly one vector of the configured dimension
	// before any upsert is attempted.
	modelVer := p.embedder.ModelVersion()
	records := make([]models.UpsertRecord, 0, len(keep))
	for i, c := range keep {
		if vectors[i] == nil {
			// Rejected by the model and already logged.
			continue
		}
		vec := models.EmbeddingVector{ChunkID: c.ID, Values: vectors[i], ModelVersion: modelVer}
		if len(vec.Values) != p.cfg.EmbedDim {
			return nil, fmt.Errorf("chunk %s: got %d-dim vector, want %d: %w",
				c.ID, len(vec.Values), p.cfg.EmbedDim, core.ErrDimensionMismatch)
		}
		records = append(records, models.UpsertRecord{
			ChunkID:     vec.ChunkID,
			Vector:      vec.Values,
			Text:        c.Text,
			SourceRef:   c.SourceRef,
			Page:        c.Page,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			ModelVer:    vec.ModelVersion,
		})
	}
	return records, nil
}

// embedOneByOne retries a rejected batch one chunk at a time so that only
// the chunks the model actually refuses are dropped. A dropped chunk leaves
// a nil vector behind.
func (p *Pipeline) embedOneByOne(ctx context.Context, chunks []models.Chunk, vectors [][]float32, lo int) error {
	for i := range chunks {
		c := &chunks[i]
		vecs, err := p.embedder.EmbedTexts(ctx, []string{c.Text})
		if err != nil {
			var invalid *core.InvalidInputError
			if errors.As(err, &invalid) {
				log.Printf("Pipeline: dropping chunk %s of %s, rejected by the model: %v", c.ID, c.SourceRef, err)
				continue
			}
			return err
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embed size mismatch: got %d want 1", len(vecs))
		}
		vectors[lo+i] = vecs[0]
	}
	return nil
}

func (p *Pipeline) deadLetter(ctx context.Context, pc *procContext, cause error) error {
	entry := models.DeadLetterEntry{
		ID:            uuid.NewString(),
		OriginalEvent: pc.event,
		FailureReason: cause.Error(),
		AttemptCount:  pc.totalAttempts(),
		FailedAt:      time.Now().UTC(),
	}
	return p.dlq.DeadLetter(ctx, entry)
}

// reportStatus is best effort; a lost status message never fails the event.
func (p *Pipeline) reportStatus(ctx context.Context, msg models.StatusMessage) {
	if err := p.status.ReportStatus(ctx, msg); err != nil {
		log.Printf("Pipeline: status report for %s failed: %v", msg.DocumentRef, err)
	}
}
