package ingestion_engine

import (
	"fmt"
	"iter"

	"github.com/markdave123-py/Ingesta/internal/models"
)

// Chunker splits extracted text into fixed-size character windows with a
// fixed overlap. Boundaries are a pure function of the text length and the
// configuration, so repeated runs over the same document regenerate the same
// chunks and the same chunk IDs.
//
// Overlap is measured in runes, not tokens. A document shorter than maxSize
// yields exactly one chunk; an empty document yields none.
type Chunker struct {
	maxSize int
	overlap int
}

func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("chunker: max size must be positive, got %d", maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", maxSize, overlap)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

type span struct {
	start int
	end   int
}

// spans yields the chunk windows for a text of n runes, one at a time. Each
// window after the first starts overlap runes before the previous window's
// end. The sequence is finite, and every range over it restarts from zero.
func (c *Chunker) spans(n int) iter.Seq[span] {
	return func(yield func(span) bool) {
		if n == 0 {
			return
		}
		start := 0
		for {
			end := start + c.maxSize
			if end >= n {
				yield(span{start: start, end: n})
				return
			}
			if !yield(span{start: start, end: end}) {
				return
			}
			start = end - c.overlap
		}
	}
}

// boundaries materializes the window sequence for a text of n runes.
func (c *Chunker) boundaries(n int) []span {
	var out []span
	for s := range c.spans(n) {
		out = append(out, s)
	}
	return out
}

// Chunks yields the chunk sequence for an extracted document without
// materializing it. Offsets are rune positions into the concatenated block
// text; each chunk carries the page of its first rune.
func (c *Chunker) Chunks(doc *models.ExtractedDocument) iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		runes := []rune(doc.Text())
		for s := range c.spans(len(runes)) {
			ch := models.Chunk{
				ID:          models.ChunkID(doc.SourceRef, s.start, s.end),
				SourceRef:   doc.SourceRef,
				Text:        string(runes[s.start:s.end]),
				Page:        doc.PageAt(s.start),
				StartOffset: s.start,
				EndOffset:   s.end,
			}
			if !yield(ch) {
				return
			}
		}
	}
}

// Split collects the full chunk sequence. The pipeline wants every chunk in
// hand before the embedding fan-out, so it uses this form.
func (c *Chunker) Split(doc *models.ExtractedDocument) []models.Chunk {
	var out []models.Chunk
	for ch := range c.Chunks(doc) {
		out = append(out, ch)
	}
	return out
}
