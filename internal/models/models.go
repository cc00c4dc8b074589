package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// IngestionEvent is one message pulled from the upload topic. The producer
// writes it when a PDF lands in the bucket; we consume it once per successful
// pipeline run.
type IngestionEvent struct {
	DocumentRef string            `json:"document_reference"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
}

// TextBlock is a run of extracted text with its page number and rune offset
// inside the whole document.
type TextBlock struct {
	Page       int
	Text       string
	CharOffset int
}

// ExtractedDocument holds the ordered blocks pulled out of one document.
// It only lives until chunking is done.
type ExtractedDocument struct {
	SourceRef string
	Blocks    []TextBlock
}

// Text concatenates all blocks into the full extracted text.
func (d *ExtractedDocument) Text() string {
	var n int
	for i := range d.Blocks {
		n += len(d.Blocks[i].Text)
	}
	buf := make([]byte, 0, n)
	for i := range d.Blocks {
		buf = append(buf, d.Blocks[i].Text...)
	}
	return string(buf)
}

// PageAt returns the page number of the block containing the given rune
// offset, or the last block's page for offsets past the end.
func (d *ExtractedDocument) PageAt(offset int) int {
	page := 0
	for i := range d.Blocks {
		if d.Blocks[i].CharOffset > offset {
			break
		}
		page = d.Blocks[i].Page
	}
	return page
}

// Chunk is one bounded text segment, the unit of embedding. Its ID is a
// stable hash of the source reference and offset range so retries and
// re-deliveries land on the same index entry.
type Chunk struct {
	ID          string
	SourceRef   string
	Text        string
	Page        int
	StartOffset int
	EndOffset   int
}

// ChunkID derives the stable identity for a chunk of ref covering
// [start, end). Offsets are in runes.
func ChunkID(ref string, start, end int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d-%d", ref, start, end)))
	return hex.EncodeToString(h[:])
}

// EmbeddingVector is the model output for one chunk.
type EmbeddingVector struct {
	ChunkID      string
	Values       []float32
	ModelVersion string
}

// UpsertRecord is one row written to the vector index. Upsert is
// insert-or-overwrite keyed on ChunkID.
type UpsertRecord struct {
	ChunkID     string
	Vector      []float32
	Text        string
	SourceRef   string
	Page        int
	StartOffset int
	EndOffset   int
	ModelVer    string
}

// DeadLetterEntry wraps an event that exhausted its retry budget or hit a
// non-retryable failure.
type DeadLetterEntry struct {
	ID            string         `json:"id"`
	OriginalEvent IngestionEvent `json:"original_event"`
	RawMessage    string         `json:"raw_message,omitempty"`
	FailureReason string         `json:"failure_reason"`
	AttemptCount  int            `json:"attempt_count"`
	FailedAt      time.Time      `json:"failed_at"`
}

// StatusMessage reports the outcome of one event on the status topic.
type StatusMessage struct {
	DocumentRef     string `json:"id"`
	Status          string `json:"status"` // completed | failed
	ChunksProcessed int    `json:"chunks_processed,omitempty"`
	Error           string `json:"error,omitempty"`
}
