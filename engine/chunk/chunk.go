// Package chunk splits parsed documents into token-budgeted retrieval
// chunks. Chunk spans tile the canonical text exactly, so concatenating the
// [Start, End) spans in id order reproduces the document byte for byte;
// overlap appears only as a text prefix on the following chunk.
package chunk

import (
	"errors"
	"fmt"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/PhantomAgents/phantom-mvp/engine/docparse"
	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

const (
	// DefaultTargetTokens is the target number of tokens per chunk.
	DefaultTargetTokens = 512
	// DefaultOverlapTokens is the number of tokens carried over as prefix
	// between consecutive chunks.
	DefaultOverlapTokens = 64
)

// elementJoiner separates elements in the canonical text.
const elementJoiner = "\n\n"

// Chunker packs document elements into chunks of roughly target tokens.
type Chunker struct {
	counter Counter
	target  int
	overlap int
}

// New validates the token budgets. Overlap must leave room for new content
// in every chunk.
func New(counter Counter, target, overlap int) (*Chunker, error) {
	if counter == nil {
		return nil, errors.New("chunk: nil counter")
	}
	if target <= 0 {
		return nil, fmt.Errorf("chunk: target must be positive, got %d", target)
	}
	if overlap < 0 || overlap >= target {
		return nil, fmt.Errorf("chunk: overlap must be in [0, target), got %d", overlap)
	}
	return &Chunker{counter: counter, target: target, overlap: overlap}, nil
}

// segment is a packing unit: an element, a sentence of an oversized element,
// or a hard-cut slice of an oversized sentence. Segments tile the canonical
// text in order.
type segment struct {
	start, end int
	tokens     int
	page       int
	section    string
}

// Split chunks the document. Chunk ids are ordinals from zero in text order.
func (c *Chunker) Split(doc *docparse.Document) ([]domain.Chunk, error) {
	if doc == nil || len(doc.Elements) == 0 {
		return nil, nil
	}
	canonical := doc.CanonicalText()
	segs := c.segments(doc, canonical)

	var (
		chunks   []domain.Chunk
		prevSegs []segment
	)
	i := 0
	for i < len(segs) {
		cur := []segment{segs[i]}
		tokens := segs[i].tokens
		i++
		for i < len(segs) && tokens+segs[i].tokens <= c.target {
			cur = append(cur, segs[i])
			tokens += segs[i].tokens
			i++
		}

		start := cur[0].start
		end := cur[len(cur)-1].end
		textStart := start
		if len(chunks) > 0 && c.overlap > 0 {
			textStart = c.overlapStart(canonical, prevSegs)
		}
		chunks = append(chunks, domain.Chunk{
			ID:      uint32(len(chunks)),
			Text:    canonical[textStart:end],
			Start:   start,
			End:     end,
			Page:    cur[0].page,
			Section: cur[0].section,
		})
		prevSegs = cur
	}
	return chunks, nil
}

// segments builds the packing units. Element joiners belong to the span of
// the element they precede, so the segment stream covers the canonical text
// without gaps.
func (c *Chunker) segments(doc *docparse.Document, canonical string) []segment {
	var segs []segment
	off := 0
	for i, el := range doc.Elements {
		segStart := off
		if i > 0 {
			off += len(elementJoiner)
		}
		elEnd := off + len(el.Text)
		off = elEnd

		tokens := c.counter.Count(canonical[segStart:elEnd])
		if tokens <= c.target {
			segs = append(segs, segment{start: segStart, end: elEnd, tokens: tokens, page: el.Page, section: el.Section})
			continue
		}
		for _, sp := range sentenceSpans(canonical[segStart:elEnd], segStart) {
			t := c.counter.Count(canonical[sp[0]:sp[1]])
			if t <= c.target {
				segs = append(segs, segment{start: sp[0], end: sp[1], tokens: t, page: el.Page, section: el.Section})
				continue
			}
			segs = append(segs, c.hardCut(canonical, sp[0], sp[1], el)...)
		}
	}
	return segs
}

// hardCut slices an oversized sentence at rune boundaries so every piece
// fits the target.
func (c *Chunker) hardCut(canonical string, start, end int, el docparse.Element) []segment {
	var segs []segment
	for start < end {
		cut := c.maxPrefixEnd(canonical, start, end)
		segs = append(segs, segment{
			start:   start,
			end:     cut,
			tokens:  c.counter.Count(canonical[start:cut]),
			page:    el.Page,
			section: el.Section,
		})
		start = cut
	}
	return segs
}

// maxPrefixEnd returns the largest rune boundary in (start, end] whose
// prefix fits the token target. Always advances at least one rune.
func (c *Chunker) maxPrefixEnd(canonical string, start, end int) int {
	text := canonical[start:end]
	if c.counter.Count(text) <= c.target {
		return end
	}
	var bounds []int
	for i := range text {
		if i > 0 {
			bounds = append(bounds, i)
		}
	}
	bounds = append(bounds, len(text))
	idx := sort.Search(len(bounds), func(k int) bool {
		return c.counter.Count(text[:bounds[k]]) > c.target
	})
	if idx == 0 {
		return start + bounds[0]
	}
	return start + bounds[idx-1]
}

// overlapStart picks where the next chunk's text prefix begins inside the
// previous chunk: the earliest segment start whose tail fits the overlap
// budget, else a rune-boundary cut inside the final segment.
func (c *Chunker) overlapStart(canonical string, prev []segment) int {
	tokens := 0
	candidate := -1
	for j := len(prev) - 1; j >= 0; j-- {
		tokens += prev[j].tokens
		if tokens > c.overlap {
			break
		}
		candidate = prev[j].start
	}
	if candidate >= 0 {
		return candidate
	}
	last := prev[len(prev)-1]
	return c.tailCut(canonical, last.start, last.end)
}

// tailCut finds the earliest rune boundary in [lo, end) whose suffix fits
// the overlap budget.
func (c *Chunker) tailCut(canonical string, lo, end int) int {
	text := canonical[lo:end]
	var starts []int
	for i := range text {
		starts = append(starts, i)
	}
	idx := sort.Search(len(starts), func(k int) bool {
		return c.counter.Count(text[starts[k]:]) <= c.overlap
	})
	if idx == len(starts) {
		return end
	}
	return lo + starts[idx]
}

// sentenceSpans splits text at sentence boundaries, returning absolute
// [start, end) pairs that tile it exactly. A boundary sits after '.', '!',
// '?' or a newline when followed by whitespace or the end; the trailing
// whitespace run stays with the earlier sentence.
func sentenceSpans(text string, base int) [][2]int {
	var spans [][2]int
	segStart := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		if r != '\n' && i < len(text) {
			next, _ := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				continue
			}
		}
		for i < len(text) {
			next, size2 := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				break
			}
			i += size2
		}
		spans = append(spans, [2]int{base + segStart, base + i})
		segStart = i
	}
	if segStart < len(text) {
		spans = append(spans, [2]int{base + segStart, base + len(text)})
	}
	return spans
}
