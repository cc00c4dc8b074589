package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/markdave123-py/Ingesta/internal/config"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// Source wraps a Kafka consumer group reader. Offsets are committed
// explicitly per message, never automatically, so an event is only marked
// done once its document is fully in the index.
type Source struct {
	reader *kafka.Reader
}

func NewSource(cfg *config.Config) *Source {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		Topic:       cfg.KafkaTopic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    50 * 1024 * 1024,
		MaxWait:     500 * time.Millisecond,
	})
	log.Printf("Kafka consumer initialized: topic=%s group=%s brokers=%v", cfg.KafkaTopic, cfg.KafkaGroupID, cfg.KafkaBrokers)
	return &Source{reader: r}
}

// Fetch blocks until the next message or context cancellation. It does not
// advance the committed offset.
func (s *Source) Fetch(ctx context.Context) (kafka.Message, error) {
	return s.reader.FetchMessage(ctx)
}

// Commit marks the message as processed for the consumer group.
func (s *Source) Commit(ctx context.Context, msg kafka.Message) error {
	return s.reader.CommitMessages(ctx, msg)
}

func (s *Source) Close() error {
	return s.reader.Close()
}

// DecodeEvent parses a queue message into an IngestionEvent. A message
// without a document reference is malformed and goes straight to the
// dead-letter topic without retries.
func DecodeEvent(value []byte) (models.IngestionEvent, error) {
	var ev models.IngestionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return models.IngestionEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.DocumentRef == "" {
		return models.IngestionEvent{}, fmt.Errorf("decode event: missing document_reference")
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	return ev, nil
}
