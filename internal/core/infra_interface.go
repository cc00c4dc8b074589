package core

import (
	"context"

	"github.com/markdave123-py/Ingesta/internal/models"
)

// ObjectClient defines interactions with S3 or any object storage. It's
// abstract so AWS can be replaced with MinIO, GCS, etc. easily.
type ObjectClient interface {
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
}

// DocumentExtractor parses raw document bytes into ordered text blocks with
// page metadata. An empty block list is valid (scanned or image-only PDFs).
type DocumentExtractor interface {
	Extract(ctx context.Context, ref string, raw []byte, contentType string) (*models.ExtractedDocument, error)
}

// EmbeddingProvider turns chunk texts into vectors. Implementations must be
// safe for concurrent use across chunks of the same document.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelVersion() string
}

// VectorIndex persists chunk vectors. UpsertBatch must be atomic from the
// caller's perspective and idempotent on chunk ID.
type VectorIndex interface {
	UpsertBatch(ctx context.Context, records []models.UpsertRecord) error
	Close() error
}

// DeadLetterSink receives events that exhausted their retry budget or hit a
// non-retryable failure.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, entry models.DeadLetterEntry) error
}

// StatusReporter publishes the per-document completed/failed outcome.
type StatusReporter interface {
	ReportStatus(ctx context.Context, msg models.StatusMessage) error
}
