package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// ---- fakes ----

type fakeObjectClient struct {
	mu        sync.Mutex
	data      map[string][]byte
	failTimes int // first N GetFile calls fail with a transient error
	getCalls  int
}

func (f *fakeObjectClient) GetFile(_ context.Context, _, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getCalls <= f.failTimes {
		return nil, &core.TransientIOError{Op: "s3 get", Err: errors.New("connection reset")}
	}
	raw, ok := f.data[key]
	if !ok {
		return nil, &core.NotFoundError{Ref: key}
	}
	return raw, nil
}

func (f *fakeObjectClient) UploadFile(context.Context, string, string, []byte, string) (string, error) {
	return "", nil
}

func (f *fakeObjectClient) DeleteFile(context.Context, string, string) error { return nil }

// fakeExtractor treats the raw bytes as plain text on a single page.
type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(_ context.Context, ref string, raw []byte, _ string) (*models.ExtractedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc := &models.ExtractedDocument{SourceRef: ref}
	if len(raw) > 0 {
		doc.Blocks = []models.TextBlock{{Page: 1, Text: string(raw), CharOffset: 0}}
	}
	return doc, nil
}

type fakeEmbedder struct {
	dim       int
	mu        sync.Mutex
	failTimes int
	calls     int
	reject    string // texts containing this marker get an InvalidInputError
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failTimes {
		return nil, &core.TransientIOError{Op: "gemini embed", Err: errors.New("429 rate limited")}
	}
	if f.reject != "" {
		for _, t := range texts {
			if strings.Contains(t, f.reject) {
				return nil, &core.InvalidInputError{Reason: "input too long"}
			}
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func (f *fakeEmbedder) ModelVersion() string { return "fake-embedding-001" }

type fakeIndex struct {
	mu        sync.Mutex
	rows      map[string]models.UpsertRecord
	batches   int
	failTimes int
}

func (f *fakeIndex) UpsertBatch(_ context.Context, records []models.UpsertRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.batches <= f.failTimes {
		return &core.IndexWriteError{Err: errors.New("index unavailable")}
	}
	if f.rows == nil {
		f.rows = make(map[string]models.UpsertRecord)
	}
	for _, r := range records {
		f.rows[r.ChunkID] = r
	}
	return nil
}

func (f *fakeIndex) Close() error { return nil }

type fakeDLQ struct {
	mu      sync.Mutex
	entries []models.DeadLetterEntry
	failFor string // dead-letter writes for this document reference fail
}

func (f *fakeDLQ) DeadLetter(_ context.Context, entry models.DeadLetterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != "" && entry.OriginalEvent.DocumentRef == f.failFor {
		return errors.New("dead-letter topic unavailable")
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeStatus struct {
	mu   sync.Mutex
	msgs []models.StatusMessage
}

func (f *fakeStatus) ReportStatus(_ context.Context, msg models.StatusMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

// ---- harness ----

type pipeFixture struct {
	obj      *fakeObjectClient
	ext      *fakeExtractor
	emb      *fakeEmbedder
	index    *fakeIndex
	dlq      *fakeDLQ
	status   *fakeStatus
	pipeline *Pipeline
}

func newFixture(t *testing.T, mutate func(*pipeFixture, *Config)) *pipeFixture {
	t.Helper()
	f := &pipeFixture{
		obj:    &fakeObjectClient{data: map[string][]byte{}},
		ext:    &fakeExtractor{},
		emb:    &fakeEmbedder{dim: 8},
		index:  &fakeIndex{},
		dlq:    &fakeDLQ{},
		status: &fakeStatus{},
	}
	chunker, err := NewChunker(100, 10)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &Config{
		Bucket:         "test-bucket",
		EmbedDim:       8,
		EmbedBatchSize: 4,
		EmbedWorkers:   2,
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		EventTimeout:   5 * time.Second,
	}
	if mutate != nil {
		mutate(f, cfg)
	}
	f.pipeline = NewPipeline(f.obj, f.ext, chunker, f.emb, f.index, f.dlq, f.status, cfg)
	return f
}

func event(ref string) models.IngestionEvent {
	return models.IngestionEvent{DocumentRef: ref, ReceivedAt: time.Now().UTC()}
}

// ---- tests ----

func TestProcessEvent_HappyPath(t *testing.T) {
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/a.pdf"] = []byte(strings.Repeat("x", 250))
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 250 chars with max 100, overlap 10 -> [0,100) [90,190) [180,250)
	if len(f.index.rows) != 3 {
		t.Fatalf("expected 3 upserted chunks, got %d", len(f.index.rows))
	}
	if len(f.dlq.entries) != 0 {
		t.Errorf("unexpected dead-letter entries: %v", f.dlq.entries)
	}
	if len(f.status.msgs) != 1 || f.status.msgs[0].Status != "completed" {
		t.Fatalf("expected one completed status, got %v", f.status.msgs)
	}
	if f.status.msgs[0].ChunksProcessed != 3 {
		t.Errorf("expected 3 chunks reported, got %d", f.status.msgs[0].ChunksProcessed)
	}
	for _, r := range f.index.rows {
		if r.ModelVer != "fake-embedding-001" {
			t.Errorf("model version not recorded on %s", r.ChunkID)
		}
	}
}

func TestProcessEvent_Idempotent(t *testing.T) {
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/a.pdf"] = []byte(strings.Repeat("x", 250))
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatal(err)
	}
	after := make(map[string]models.UpsertRecord, len(f.index.rows))
	for k, v := range f.index.rows {
		after[k] = v
	}

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatal(err)
	}
	if len(f.index.rows) != len(after) {
		t.Fatalf("second run changed index size: %d vs %d", len(f.index.rows), len(after))
	}
	for k := range after {
		if _, ok := f.index.rows[k]; !ok {
			t.Errorf("chunk %s disappeared on second run", k)
		}
	}
}

func TestProcessEvent_TransientStorageFailureWithinBudget(t *testing.T) {
	// Storage fails twice then succeeds on the third attempt, inside the
	// budget of 3: the event completes normally.
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/a.pdf"] = []byte("hello world")
		f.obj.failTimes = 2
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.obj.getCalls != 3 {
		t.Errorf("expected 3 storage attempts, got %d", f.obj.getCalls)
	}
	if len(f.dlq.entries) != 0 {
		t.Errorf("unexpected dead-letter entries: %v", f.dlq.entries)
	}
	if len(f.index.rows) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(f.index.rows))
	}
}

func TestProcessEvent_TransientFailureExhaustsBudget(t *testing.T) {
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/a.pdf"] = []byte("hello")
		f.obj.failTimes = 10
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatalf("exhaustion must dead-letter, not redeliver: %v", err)
	}
	if f.obj.getCalls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", f.obj.getCalls)
	}
	if len(f.dlq.entries) != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", len(f.dlq.entries))
	}
	if f.dlq.entries[0].AttemptCount != 3 {
		t.Errorf("expected attempt count 3, got %d", f.dlq.entries[0].AttemptCount)
	}
	if len(f.status.msgs) != 1 || f.status.msgs[0].Status != "failed" {
		t.Fatalf("expected one failed status, got %v", f.status.msgs)
	}
}

func TestProcessEvent_CorruptDocumentNotRetried(t *testing.T) {
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/bad.pdf"] = []byte("not a pdf")
		f.ext.err = &core.CorruptDocumentError{Ref: "docs/bad.pdf", Err: errors.New("bad xref")}
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/bad.pdf")); err != nil {
		t.Fatal(err)
	}
	if f.obj.getCalls != 1 {
		t.Errorf("non-retryable failure must not be retried, got %d attempts", f.obj.getCalls)
	}
	if len(f.dlq.entries) != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", len(f.dlq.entries))
	}
	if !strings.Contains(f.dlq.entries[0].FailureReason, "corrupt document") {
		t.Errorf("unexpected failure reason: %s", f.dlq.entries[0].FailureReason)
	}
}

func TestProcessEvent_DimensionMismatch(t *testing.T) {
	// The embedder answers with 3-dim vectors while the index expects 8:
	// nothing may be written, the event fails, and the dead-letter entry
	// names the dimension mismatch.
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/a.pdf"] = []byte("some text to embed")
		f.emb.dim = 3
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatal(err)
	}
	if f.index.batches != 0 {
		t.Errorf("upsert must be rejected before any write, got %d batches", f.index.batches)
	}
	if len(f.dlq.entries) != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", len(f.dlq.entries))
	}
	if !strings.Contains(f.dlq.entries[0].FailureReason, "dimension mismatch") {
		t.Errorf("failure reason must mention the dimension mismatch, got %q", f.dlq.entries[0].FailureReason)
	}
	if !errors.Is(fmt.Errorf("%s: %w", "wrap", core.ErrDimensionMismatch), core.ErrDimensionMismatch) {
		t.Error("sentinel must survive wrapping")
	}
}

func TestProcessEvent_EmbedRateLimitRetried(t *testing.T) {
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/a.pdf"] = []byte("hello world")
		f.emb.failTimes = 1
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatal(err)
	}
	if f.emb.calls != 2 {
		t.Errorf("expected a retried embed call (2 calls), got %d", f.emb.calls)
	}
	if len(f.index.rows) != 1 {
		t.Errorf("expected 1 chunk after retry, got %d", len(f.index.rows))
	}
	if len(f.dlq.entries) != 0 {
		t.Errorf("retry within budget must not dead-letter")
	}
}

func TestProcessEvent_RejectedChunkSkippedNotFatal(t *testing.T) {
	// One chunk the model refuses must be dropped with a log line while the
	// rest of the document is embedded and upserted.
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		body := strings.Repeat("x", 120) + "@@" + strings.Repeat("x", 128)
		f.obj.data["docs/a.pdf"] = []byte(body)
		f.emb.reject = "@@"
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatal(err)
	}
	// 250 chars with max 100, overlap 10 -> [0,100) [90,190) [180,250); only
	// the middle chunk carries the rejected marker.
	if len(f.index.rows) != 2 {
		t.Fatalf("expected 2 chunks upserted, got %d", len(f.index.rows))
	}
	if len(f.dlq.entries) != 0 {
		t.Errorf("a rejected chunk must not dead-letter the document")
	}
	if len(f.status.msgs) != 1 || f.status.msgs[0].Status != "completed" {
		t.Fatalf("expected completed status, got %v", f.status.msgs)
	}
	if f.status.msgs[0].ChunksProcessed != 2 {
		t.Errorf("expected 2 chunks reported, got %d", f.status.msgs[0].ChunksProcessed)
	}
}

func TestProcessEvent_EmptyDocumentCompletes(t *testing.T) {
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/empty.pdf"] = []byte{}
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/empty.pdf")); err != nil {
		t.Fatal(err)
	}
	if f.index.batches != 0 {
		t.Errorf("nothing to upsert for an empty document")
	}
	if len(f.status.msgs) != 1 || f.status.msgs[0].Status != "completed" {
		t.Fatalf("empty document must complete, got %v", f.status.msgs)
	}
	if len(f.dlq.entries) != 0 {
		t.Errorf("empty document must not dead-letter")
	}
}

func TestProcessEvent_IndexWriteRetried(t *testing.T) {
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/a.pdf"] = []byte("hello world")
		f.index.failTimes = 1
	})

	if err := f.pipeline.ProcessEvent(context.Background(), event("docs/a.pdf")); err != nil {
		t.Fatal(err)
	}
	if f.index.batches != 2 {
		t.Errorf("expected a retried upsert (2 batches), got %d", f.index.batches)
	}
	if len(f.index.rows) != 1 {
		t.Errorf("expected 1 chunk after retry, got %d", len(f.index.rows))
	}
	if len(f.dlq.entries) != 0 {
		t.Errorf("retry within budget must not dead-letter")
	}
}

func TestProcessEvent_ShutdownRedelivers(t *testing.T) {
	f := newFixture(t, func(f *pipeFixture, _ *Config) {
		f.obj.data["docs/a.pdf"] = []byte("hello")
		f.obj.failTimes = 10 // keep the stage retrying so cancel lands mid-event
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.pipeline.ProcessEvent(ctx, event("docs/a.pdf")); err == nil {
		t.Fatal("cancelled processing must report an error so the offset stays uncommitted")
	}
	if len(f.dlq.entries) != 0 {
		t.Errorf("shutdown must not dead-letter the event")
	}
}
