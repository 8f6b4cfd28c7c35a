package docparse

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

func testParser() *Parser {
	return New(slog.Default())
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := testParser().Parse([]byte("data"), domain.Format("epub"))
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParse_TXT(t *testing.T) {
	input := "First paragraph here.\n\nSecond paragraph\nwith a second line.\n\n\nThird."
	doc, err := testParser().Parse([]byte(input), domain.FormatTXT)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(doc.Elements) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(doc.Elements))
	}
	if doc.Elements[1].Text != "Second paragraph\nwith a second line." {
		t.Errorf("unexpected element text: %q", doc.Elements[1].Text)
	}
	for i, el := range doc.Elements {
		if el.Page != 1 {
			t.Errorf("element %d: expected page 1, got %d", i, el.Page)
		}
		if el.Section != "Preamble" {
			t.Errorf("element %d: expected default section, got %q", i, el.Section)
		}
	}
}

func TestParse_TXT_InvalidUTF8(t *testing.T) {
	_, err := testParser().Parse([]byte{0xff, 0xfe, 0xfd}, domain.FormatTXT)
	if !errors.Is(err, domain.ErrParseFailure) {
		t.Fatalf("expected ErrParseFailure, got %v", err)
	}
}

func TestParse_TXT_Empty(t *testing.T) {
	doc, err := testParser().Parse([]byte("  \n\n  "), domain.FormatTXT)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(doc.Elements) != 0 {
		t.Fatalf("expected no elements, got %d", len(doc.Elements))
	}
}

func TestCanonicalText(t *testing.T) {
	doc := &Document{Elements: []Element{
		{Text: "one"}, {Text: "two"}, {Text: "three"},
	}}
	if got := doc.CanonicalText(); got != "one\n\ntwo\n\nthree" {
		t.Errorf("unexpected canonical text: %q", got)
	}
}

func TestSuppressionSet_StrictMajority(t *testing.T) {
	perPage := [][]string{
		{"Acme Corp Confidential", "Body one"},
		{"Acme Corp Confidential", "Body two"},
		{"Body three"},
		{"Body four"},
	}
	set := suppressionSet(perPage)
	// 2 of 4 pages is exactly the threshold and must NOT suppress.
	if _, ok := set["Acme Corp Confidential"]; ok {
		t.Error("text on half the pages should not be suppressed")
	}

	perPage = [][]string{
		{"Acme Corp Confidential", "Body one"},
		{"Acme Corp Confidential", "Body two"},
		{"Acme Corp Confidential", "Body three"},
		{"Body four"},
	}
	set = suppressionSet(perPage)
	if _, ok := set["Acme Corp Confidential"]; !ok {
		t.Error("text on 3 of 4 pages should be suppressed")
	}
	if _, ok := set["Body one"]; ok {
		t.Error("unique text should not be suppressed")
	}
}

func TestAssemble_FiltersSuppressed(t *testing.T) {
	els := []rawElement{
		{Text: "Page footer", Page: 1},
		{Text: "Real content", Page: 1},
		{Text: "  ", Page: 1},
	}
	doc := assemble(els, map[string]struct{}{"Page footer": {}})
	if len(doc.Elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(doc.Elements))
	}
	if doc.Elements[0].Text != "Real content" {
		t.Errorf("unexpected element: %q", doc.Elements[0].Text)
	}
}

func TestAssemble_MergesListItems(t *testing.T) {
	els := []rawElement{
		{Text: "Return steps:", Page: 1},
		{Text: "a. Pack the item", Page: 1},
		{Text: "b. Attach the label", Page: 1},
		{Text: "c) Drop it off", Page: 2},
		{Text: "Refunds take 5 days.", Page: 2},
	}
	doc := assemble(els, nil)
	if len(doc.Elements) != 3 {
		t.Fatalf("expected 3 elements after merge, got %d", len(doc.Elements))
	}
	want := "a. Pack the item\nb. Attach the label\nc) Drop it off"
	if doc.Elements[1].Text != want {
		t.Errorf("merged list mismatch:\ngot  %q\nwant %q", doc.Elements[1].Text, want)
	}
	// Merged element keeps the page of its first item.
	if doc.Elements[1].Page != 1 {
		t.Errorf("expected merged element on page 1, got %d", doc.Elements[1].Page)
	}
}

func TestAssemble_NoMergeAfterPlainText(t *testing.T) {
	els := []rawElement{
		{Text: "Plain sentence.", Page: 1},
		{Text: "a. First item", Page: 1},
	}
	doc := assemble(els, nil)
	// The previous element is not a list item, so nothing merges.
	if len(doc.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(doc.Elements))
	}
}

func TestAssemble_SectionTracking(t *testing.T) {
	els := []rawElement{
		{Text: "Welcome to the handbook.", Page: 1},
		{Text: "II. WARRANTY POLICY:", Page: 1},
		{Text: "Coverage lasts two years.", Page: 1},
		{Text: "3. RETURNS & EXCHANGES", Page: 2},
		{Text: "Returns need a receipt.", Page: 2},
	}
	doc := assemble(els, nil)
	if doc.Elements[0].Section != "Preamble" {
		t.Errorf("expected Preamble before first header, got %q", doc.Elements[0].Section)
	}
	if doc.Elements[1].Section != "WARRANTY POLICY" {
		t.Errorf("expected header to strip colon, got %q", doc.Elements[1].Section)
	}
	if !doc.Elements[1].Heading {
		t.Error("expected header element flagged as heading")
	}
	if doc.Elements[2].Section != "WARRANTY POLICY" {
		t.Errorf("expected section carried forward, got %q", doc.Elements[2].Section)
	}
	if doc.Elements[4].Section != "RETURNS & EXCHANGES" {
		t.Errorf("expected numbered header tracked, got %q", doc.Elements[4].Section)
	}
}

func TestAssemble_LowercaseHeaderIgnored(t *testing.T) {
	els := []rawElement{
		{Text: "1. introduction to returns", Page: 1},
		{Text: "Body text.", Page: 1},
	}
	doc := assemble(els, nil)
	if doc.Elements[1].Section != "Preamble" {
		t.Errorf("lowercase title must not open a section, got %q", doc.Elements[1].Section)
	}
}

func TestParse_PDFPageOrderAndSuppression(t *testing.T) {
	// Exercises the page-level plumbing without a real file.
	perPage := [][]string{
		{"Footer text", "Alpha"},
		{"Footer text", "Beta"},
		{"Footer text", "Gamma"},
	}
	els := flattenPages(perPage)
	if len(els) != 6 {
		t.Fatalf("expected 6 raw elements, got %d", len(els))
	}
	if els[3].Page != 2 {
		t.Errorf("expected second page element on page 2, got %d", els[3].Page)
	}
	doc := assemble(els, suppressionSet(perPage))
	var texts []string
	for _, el := range doc.Elements {
		texts = append(texts, el.Text)
	}
	if got := strings.Join(texts, ","); got != "Alpha,Beta,Gamma" {
		t.Errorf("expected footer suppressed and order kept, got %q", got)
	}
}
