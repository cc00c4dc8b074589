package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/markdave123-py/Ingesta/internal/config"
	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// Producer publishes processing outcomes: per-document status messages and
// dead-letter entries for events we gave up on.
type Producer struct {
	status *kafka.Writer
	dlq    *kafka.Writer
}

func NewProducer(cfg *config.Config) *Producer {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		}
	}
	log.Printf("Kafka producer initialized: status=%s dead-letter=%s", cfg.StatusTopic, cfg.DeadLetterTopic)
	return &Producer{
		status: newWriter(cfg.StatusTopic),
		dlq:    newWriter(cfg.DeadLetterTopic),
	}
}

// ReportStatus publishes a completed/failed message keyed by document
// reference, like the upload producer expects.
func (p *Producer) ReportStatus(ctx context.Context, msg models.StatusMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	err = p.status.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.DocumentRef),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// DeadLetter records an event that exhausted its retry budget or failed on a
// data problem. Exhaustion always lands here, never a silent drop.
func (p *Producer) DeadLetter(ctx context.Context, entry models.DeadLetterEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	err = p.dlq.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.OriginalEvent.DocumentRef),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write dead-letter entry: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	sErr := p.status.Close()
	dErr := p.dlq.Close()
	if sErr != nil {
		return sErr
	}
	return dErr
}

var _ core.StatusReporter = (*Producer)(nil)
var _ core.DeadLetterSink = (*Producer)(nil)
