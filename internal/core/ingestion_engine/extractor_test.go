package ingestion_engine

import (
	"context"
	"errors"
	"testing"

	"github.com/markdave123-py/Ingesta/internal/core"
)

func TestIsPDF(t *testing.T) {
	cases := []struct {
		name        string
		ref         string
		contentType string
		raw         []byte
		want        bool
	}{
		{"explicit content type", "docs/x", "application/pdf", nil, true},
		{"pdf extension", "docs/report.PDF", "", []byte("junk"), true},
		{"magic bytes", "docs/blob", "", []byte("%PDF-1.7 ..."), true},
		{"html content type", "docs/page.pdf", "text/html", []byte("%PDF-"), false},
		{"plain text", "docs/notes.txt", "", []byte("hello"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isPDF(tc.ref, tc.contentType, tc.raw); got != tc.want {
				t.Errorf("isPDF(%q, %q) = %v, want %v", tc.ref, tc.contentType, got, tc.want)
			}
		})
	}
}

func TestExtract_EmptyBodyIsCorrupt(t *testing.T) {
	e := NewDocExtractor(false)
	_, err := e.Extract(context.Background(), "docs/empty.pdf", nil, "application/pdf")

	var corrupt *core.CorruptDocumentError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptDocumentError, got %v", err)
	}
}

func TestExtract_GarbagePDFIsCorrupt(t *testing.T) {
	e := NewDocExtractor(false)
	_, err := e.Extract(context.Background(), "docs/garbage.pdf", []byte("%PDF-1.4 this is not a real pdf"), "application/pdf")

	var corrupt *core.CorruptDocumentError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptDocumentError, got %v", err)
	}
	if core.Retryable(err) {
		t.Error("corrupt document must not be retryable")
	}
}

func TestExtract_CancelledContext(t *testing.T) {
	e := NewDocExtractor(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, "docs/x.pdf", []byte("%PDF-1.4"), "application/pdf")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
