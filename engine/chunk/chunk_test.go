package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/PhantomAgents/phantom-mvp/engine/docparse"
)

// runeCounter makes hard-cut behavior deterministic in tests.
type runeCounter struct{}

func (runeCounter) Count(text string) int { return utf8.RuneCountInString(text) }

func mustChunker(t *testing.T, counter Counter, target, overlap int) *Chunker {
	t.Helper()
	c, err := New(counter, target, overlap)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func elementsDoc(texts ...string) *docparse.Document {
	doc := &docparse.Document{}
	for i, text := range texts {
		doc.Elements = append(doc.Elements, docparse.Element{
			Text: text, Page: i + 1, Section: "Preamble",
		})
	}
	return doc
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, 10, 2); err == nil {
		t.Error("expected error for nil counter")
	}
	if _, err := New(WordCounter{}, 0, 0); err == nil {
		t.Error("expected error for zero target")
	}
	if _, err := New(WordCounter{}, 10, 10); err == nil {
		t.Error("expected error for overlap >= target")
	}
	if _, err := New(WordCounter{}, 10, -1); err == nil {
		t.Error("expected error for negative overlap")
	}
}

func TestSplit_EmptyDoc(t *testing.T) {
	c := mustChunker(t, WordCounter{}, 10, 0)
	chunks, err := c.Split(nil)
	if err != nil || len(chunks) != 0 {
		t.Fatalf("expected no chunks for nil doc, got %d (%v)", len(chunks), err)
	}
	chunks, err = c.Split(&docparse.Document{})
	if err != nil || len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty doc, got %d (%v)", len(chunks), err)
	}
}

func TestSplit_SingleChunk(t *testing.T) {
	doc := elementsDoc("Short first paragraph.", "Short second.")
	c := mustChunker(t, WordCounter{}, 50, 5)
	chunks, err := c.Split(doc)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	canonical := doc.CanonicalText()
	ch := chunks[0]
	if ch.ID != 0 || ch.Start != 0 || ch.End != len(canonical) {
		t.Errorf("bad span: id=%d start=%d end=%d", ch.ID, ch.Start, ch.End)
	}
	if ch.Text != canonical {
		t.Errorf("single chunk text must equal canonical text")
	}
	if ch.Page != 1 || ch.Section != "Preamble" {
		t.Errorf("metadata not inherited: page=%d section=%q", ch.Page, ch.Section)
	}
}

func TestSplit_PacksElementsToTarget(t *testing.T) {
	doc := elementsDoc(
		"one two three four five",
		"six seven eight nine ten",
		"eleven twelve thirteen fourteen fifteen",
	)
	c := mustChunker(t, WordCounter{}, 10, 0)
	chunks, err := c.Split(doc)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "five") || !strings.Contains(chunks[0].Text, "ten") {
		t.Errorf("first chunk should pack two elements: %q", chunks[0].Text)
	}
	if chunks[1].Page != 3 {
		t.Errorf("second chunk should start at element 3, got page %d", chunks[1].Page)
	}
}

func TestSplit_Reconstruction(t *testing.T) {
	doc := elementsDoc(
		"First paragraph about shipping. Orders leave within a day.",
		"Second paragraph about returns. Contact support first. Then ship it back.",
		"Third paragraph. Short.",
		"Fourth has several words in it to pad things out.",
	)
	canonical := doc.CanonicalText()
	for _, overlap := range []int{0, 3} {
		c := mustChunker(t, WordCounter{}, 8, overlap)
		chunks, err := c.Split(doc)
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		if len(chunks) < 2 {
			t.Fatalf("overlap=%d: expected multiple chunks, got %d", overlap, len(chunks))
		}
		var sb strings.Builder
		for i, ch := range chunks {
			if int(ch.ID) != i {
				t.Errorf("overlap=%d: chunk %d has id %d", overlap, i, ch.ID)
			}
			if i == 0 && ch.Start != 0 {
				t.Errorf("overlap=%d: first chunk starts at %d", overlap, ch.Start)
			}
			if i > 0 && ch.Start != chunks[i-1].End {
				t.Errorf("overlap=%d: chunk %d span not contiguous", overlap, i)
			}
			if ch.Text != canonical[ch.End-len(ch.Text):ch.End] {
				t.Errorf("overlap=%d: chunk %d text is not a canonical slice ending at End", overlap, i)
			}
			sb.WriteString(canonical[ch.Start:ch.End])
		}
		if chunks[len(chunks)-1].End != len(canonical) {
			t.Errorf("overlap=%d: last chunk does not reach end", overlap)
		}
		if sb.String() != canonical {
			t.Errorf("overlap=%d: concatenated spans do not reproduce canonical text", overlap)
		}
	}
}

func TestSplit_OverlapPrefix(t *testing.T) {
	doc := elementsDoc(
		"alpha beta gamma delta.",
		"epsilon zeta eta theta.",
	)
	canonical := doc.CanonicalText()
	c := mustChunker(t, WordCounter{}, 5, 2)
	chunks, err := c.Split(doc)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	second := chunks[1]
	own := canonical[second.Start:second.End]
	if !strings.HasSuffix(second.Text, own) {
		t.Fatalf("chunk text must end with its own span")
	}
	prefix := second.Text[:len(second.Text)-len(own)]
	if prefix == "" {
		t.Fatal("expected an overlap prefix on the second chunk")
	}
	if prefix != canonical[second.Start-len(prefix):second.Start] {
		t.Errorf("prefix must be the tail of the previous chunk, got %q", prefix)
	}
	if got := len(strings.Fields(prefix)); got > 2 {
		t.Errorf("prefix exceeds overlap budget: %d words (%q)", got, prefix)
	}
}

func TestSplit_OverlapAtSentenceStart(t *testing.T) {
	// The whole previous chunk fits the overlap budget, so the prefix
	// extends back to its start.
	doc := elementsDoc(
		"One two. Three four.",
		"Five six seven eight nine ten.",
	)
	c := mustChunker(t, WordCounter{}, 6, 4)
	chunks, err := c.Split(doc)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Text, "One two. Three four.") {
		t.Errorf("expected sentence-aligned overlap, got %q", chunks[1].Text)
	}
}

func TestSplit_SentenceSplitOversizedElement(t *testing.T) {
	doc := elementsDoc("A one. B two. C three.")
	c := mustChunker(t, WordCounter{}, 3, 0)
	chunks, err := c.Split(doc)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 sentence chunks, got %d", len(chunks))
	}
	if strings.TrimSpace(chunks[1].Text) != "B two." {
		t.Errorf("unexpected middle chunk: %q", chunks[1].Text)
	}
}

func TestSplit_HardCutOversizedSentence(t *testing.T) {
	doc := elementsDoc("abcdefgh")
	c := mustChunker(t, runeCounter{}, 4, 0)
	chunks, err := c.Split(doc)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 hard-cut chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "abcd" || chunks[1].Text != "efgh" {
		t.Errorf("unexpected cuts: %q / %q", chunks[0].Text, chunks[1].Text)
	}
}

func TestSentenceSpans_TileInput(t *testing.T) {
	text := "First. Second! Third?\nFourth no terminator"
	spans := sentenceSpans(text, 0)
	if len(spans) != 4 {
		t.Fatalf("expected 4 spans, got %d: %v", len(spans), spans)
	}
	var sb strings.Builder
	for _, sp := range spans {
		sb.WriteString(text[sp[0]:sp[1]])
	}
	if sb.String() != text {
		t.Error("spans must tile the input exactly")
	}
}

func TestSentenceSpans_AbbreviationNotSplit(t *testing.T) {
	// A period not followed by whitespace is not a boundary.
	spans := sentenceSpans("v1.2 is out. Yes.", 0)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d: %v", len(spans), spans)
	}
}

func TestWordCounter(t *testing.T) {
	if got := (WordCounter{}).Count("  three words here \n"); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := (WordCounter{}).Count(""); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
