package ingestion_engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/queue"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// EventSource is the consumer-side view of the queue: fetch without
// advancing the committed offset, commit explicitly per message.
type EventSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Consumer pulls events sequentially from the queue and hands each one to a
// bounded pool of pipeline workers. Because the group keeps one committed
// offset per partition, the consumer never commits a worker's own message
// directly: completions feed a per-partition watermark, and only the newest
// message with a fully handled prefix is committed. An event that fails and
// must be redelivered holds its partition's watermark in place, so a later
// event finishing first cannot commit past it. That is what makes delivery
// at-least-once: a crash between upsert and commit replays the document, and
// the idempotent upsert absorbs the replay.
type Consumer struct {
	source      EventSource
	pipeline    *Pipeline
	dlq         core.DeadLetterSink
	concurrency int

	tracker   *offsetTracker
	commitMu  sync.Mutex
	committed map[int]int64
}

func NewConsumer(source EventSource, pipeline *Pipeline, dlq core.DeadLetterSink, concurrency int) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		source:      source,
		pipeline:    pipeline,
		dlq:         dlq,
		concurrency: concurrency,
		tracker:     newOffsetTracker(),
		committed:   make(map[int]int64),
	}
}

// Run blocks until the context is cancelled, then waits for in-flight
// workers to drain.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("Consumer: waiting for messages (%d workers)", c.concurrency)

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for {
		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			log.Printf("Consumer: fetch failed: %v", err)
			continue
		}
		c.tracker.Track(msg)

		ev, decErr := queue.DecodeEvent(msg.Value)
		if decErr != nil {
			// Malformed events are dead-lettered immediately, zero retries.
			c.deadLetterMalformed(ctx, msg, decErr)
			c.commitDone(ctx, msg)
			continue
		}

		g.Go(func() error {
			c.handle(ctx, ev, msg)
			return nil
		})
	}

	_ = g.Wait()
	log.Println("Consumer: shut down")
	return nil
}

// handle runs one event's pipeline and feeds the watermark on terminal
// handling. A processing error leaves the offset in flight so the event is
// redelivered and later offsets of the partition stay uncommitted.
func (c *Consumer) handle(ctx context.Context, ev models.IngestionEvent, msg kafka.Message) {
	log.Printf("Consumer: received event for %s (partition %d offset %d)", ev.DocumentRef, msg.Partition, msg.Offset)

	if err := c.pipeline.ProcessEvent(ctx, ev); err != nil {
		log.Printf("Consumer: %s not terminally handled, will be redelivered: %v", ev.DocumentRef, err)
		return
	}
	c.commitDone(ctx, msg)
}

// commitDone records msg as terminally handled and commits its partition's
// watermark if it advanced. Commits are serialized and kept monotonic per
// partition so a slower worker cannot move the group offset backwards.
func (c *Consumer) commitDone(ctx context.Context, msg kafka.Message) {
	commit, ok := c.tracker.Done(msg)
	if !ok {
		return
	}
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if last, seen := c.committed[commit.Partition]; seen && commit.Offset <= last {
		return
	}
	if err := c.source.Commit(ctx, commit); err != nil {
		log.Printf("Consumer: offset commit for partition %d offset %d failed: %v", commit.Partition, commit.Offset, err)
		return
	}
	c.committed[commit.Partition] = commit.Offset
}

func (c *Consumer) deadLetterMalformed(ctx context.Context, msg kafka.Message, cause error) {
	log.Printf("Consumer: malformed message at offset %d: %v", msg.Offset, cause)
	entry := models.DeadLetterEntry{
		ID:            uuid.NewString(),
		RawMessage:    string(msg.Value),
		FailureReason: cause.Error(),
		AttemptCount:  0,
		FailedAt:      time.Now().UTC(),
	}
	if err := c.dlq.DeadLetter(ctx, entry); err != nil {
		log.Printf("Consumer: dead-letter of malformed message failed: %v", err)
	}
}
