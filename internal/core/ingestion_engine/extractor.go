package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/models"
)

var _ core.DocumentExtractor = (*DocExtractor)(nil)

// DocExtractor parses raw document bytes into ordered, page-tagged text
// blocks. PDFs are read page by page; anything else is handed to docconv and
// reported as a single synthetic page.
type DocExtractor struct {
	useReadability bool
}

func NewDocExtractor(useReadability bool) *DocExtractor {
	return &DocExtractor{useReadability: useReadability}
}

// Extract dispatches on content type. A document with no extractable text
// yields an empty block list, which is valid, not an error.
func (e *DocExtractor) Extract(ctx context.Context, ref string, raw []byte, contentType string) (*models.ExtractedDocument, error) {
	if len(raw) == 0 {
		return nil, &core.CorruptDocumentError{Ref: ref, Err: fmt.Errorf("empty document body")}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isPDF(ref, contentType, raw) {
		return e.extractPDF(ref, raw)
	}
	return e.extractFallback(ref, raw, contentType)
}

// extractPDF walks the pages and records each page's text with its rune
// offset into the whole document. Pages that fail to extract are skipped,
// matching how scanned or partly damaged files behave in practice.
func (e *DocExtractor) extractPDF(ref string, raw []byte) (doc *models.ExtractedDocument, err error) {
	// The pdf parser panics on some malformed files instead of returning an
	// error; convert that into a CorruptDocumentError.
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = &core.CorruptDocumentError{Ref: ref, Err: fmt.Errorf("pdf parse panic: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, &core.CorruptDocumentError{Ref: ref, Err: err}
	}

	out := &models.ExtractedDocument{SourceRef: ref}
	offset := 0
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Printf("DocExtractor: skipping page %d of %s: %v", i, ref, err)
			continue
		}
		if text == "" {
			continue
		}
		out.Blocks = append(out.Blocks, models.TextBlock{
			Page:       i,
			Text:       text,
			CharOffset: offset,
		})
		offset += utf8.RuneCountInString(text)
	}

	if len(out.Blocks) == 0 {
		log.Printf("DocExtractor: no extractable text in %s (scanned or image-based?)", ref)
	}
	return out, nil
}

// extractFallback converts non-PDF documents with docconv. Page boundaries
// are not available there, so the whole body becomes page 1.
func (e *DocExtractor) extractFallback(ref string, raw []byte, contentType string) (*models.ExtractedDocument, error) {
	res, err := docconv.Convert(bytes.NewReader(raw), contentType, e.useReadability)
	if err != nil {
		return nil, &core.CorruptDocumentError{Ref: ref, Err: err}
	}

	out := &models.ExtractedDocument{SourceRef: ref}
	body := strings.TrimSpace(res.Body)
	if body == "" {
		log.Printf("DocExtractor: docconv extracted empty text for %s (%s)", ref, contentType)
		return out, nil
	}
	out.Blocks = append(out.Blocks, models.TextBlock{Page: 1, Text: body, CharOffset: 0})
	return out, nil
}

var pdfMagic = []byte("%PDF-")

func isPDF(ref, contentType string, raw []byte) bool {
	if contentType == "application/pdf" {
		return true
	}
	if contentType == "" {
		return strings.HasSuffix(strings.ToLower(ref), ".pdf") || bytes.HasPrefix(raw, pdfMagic)
	}
	return false
}
