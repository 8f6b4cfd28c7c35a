// Package docparse converts raw document bytes (pdf, docx, txt) into an
// ordered list of text elements carrying page and section metadata. It is the
// first stage of ingestion: chunking, embedding, and indexing all operate on
// the canonical text it produces.
package docparse

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

const (
	// repeatingContentThreshold suppresses a paragraph repeating on strictly
	// more than this share of pages (headers, footers, watermarks).
	repeatingContentThreshold = 0.5
	// wordsPerPageDocx synthesizes page boundaries for formats without
	// physical pages.
	wordsPerPageDocx = 300
)

// Element is one parsed paragraph with its provenance.
type Element struct {
	Text    string
	Page    int
	Section string
	Heading bool
}

// Document is the parser output: elements in reading order.
type Document struct {
	Elements []Element
}

// CanonicalText joins element texts with blank lines. Chunk offsets are
// defined over exactly this string.
func (d *Document) CanonicalText() string {
	parts := make([]string, len(d.Elements))
	for i, el := range d.Elements {
		parts[i] = el.Text
	}
	return strings.Join(parts, "\n\n")
}

// Parser turns document bytes into a Document.
type Parser struct {
	log *slog.Logger
}

// New creates a Parser.
func New(log *slog.Logger) *Parser {
	return &Parser{log: log}
}

// Parse dispatches on the declared format tag. The bytes must be a valid
// instance of that format; a mismatched tag fails with ErrParseFailure, an
// unknown tag with ErrUnsupportedFormat.
func (p *Parser) Parse(data []byte, format domain.Format) (*Document, error) {
	var (
		els      []rawElement
		suppress map[string]struct{}
		pages    int
	)

	switch format {
	case domain.FormatPDF:
		perPage, err := parsePDF(data)
		if err != nil {
			return nil, err
		}
		pages = len(perPage)
		els = flattenPages(perPage)
		suppress = suppressionSet(perPage)
	case domain.FormatDOCX:
		var err error
		els, err = parseDOCX(data)
		if err != nil {
			return nil, err
		}
		pages = lastPage(els)
	case domain.FormatTXT:
		var err error
		els, err = parseTXT(data)
		if err != nil {
			return nil, err
		}
		pages = lastPage(els)
	default:
		return nil, fmt.Errorf("docparse: %w: %q", domain.ErrUnsupportedFormat, string(format))
	}

	doc := assemble(els, suppress)
	p.log.Debug("document parsed",
		slog.String("format", string(format)),
		slog.Int("pages", pages),
		slog.Int("elements", len(doc.Elements)),
		slog.Int("suppressed", len(suppress)))
	return doc, nil
}

// rawElement is a paragraph before suppression, merging, and section stamping.
type rawElement struct {
	Text    string
	Page    int
	Heading bool
}

func flattenPages(perPage [][]string) []rawElement {
	var els []rawElement
	for i, paras := range perPage {
		for _, text := range paras {
			els = append(els, rawElement{Text: text, Page: i + 1})
		}
	}
	return els
}

// suppressionSet collects paragraph texts repeating on strictly more than
// repeatingContentThreshold of pages. Only meaningful for formats with
// physical pages.
func suppressionSet(perPage [][]string) map[string]struct{} {
	if len(perPage) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, paras := range perPage {
		for _, text := range paras {
			counts[text]++
		}
	}
	set := make(map[string]struct{})
	for text, n := range counts {
		if float64(n)/float64(len(perPage)) > repeatingContentThreshold {
			set[text] = struct{}{}
		}
	}
	return set
}

func lastPage(els []rawElement) int {
	if len(els) == 0 {
		return 0
	}
	return els[len(els)-1].Page
}

var (
	// listItemRe recognises list-item openers: "a.", "b)", "iv.", "•".
	listItemRe = regexp.MustCompile(`(?i)^\s*(?:[a-z][.)]|[ivx]+\.|•)`)
	// sectionRe recognises major section headers: "IV. RETURNS POLICY:",
	// "A) SHIPPING", "2. WARRANTY". The captured title is all-caps.
	sectionRe = regexp.MustCompile(`^(?:[IVXLCDM]+\.|[A-Z]\)|\d+\.)\s+([A-Z\s\-&]+:?)$`)
)

// defaultSection labels elements seen before any section header.
const defaultSection = "Preamble"

// assemble filters suppressed and empty paragraphs, merges consecutive list
// items, and stamps each element with the section header in effect.
func assemble(els []rawElement, suppress map[string]struct{}) *Document {
	proto := make([]rawElement, 0, len(els))
	for _, el := range els {
		text := strings.TrimSpace(el.Text)
		if text == "" {
			continue
		}
		if _, drop := suppress[text]; drop {
			continue
		}
		el.Text = text
		proto = append(proto, el)
	}
	if len(proto) == 0 {
		return &Document{}
	}

	// Merge a list item into its predecessor when the predecessor's last
	// line is itself a list item. Keeps enumerations together.
	merged := []rawElement{proto[0]}
	for _, el := range proto[1:] {
		prev := &merged[len(merged)-1]
		prevLines := strings.Split(prev.Text, "\n")
		if listItemRe.MatchString(el.Text) && listItemRe.MatchString(prevLines[len(prevLines)-1]) {
			prev.Text += "\n" + el.Text
			continue
		}
		merged = append(merged, el)
	}

	section := defaultSection
	out := make([]Element, 0, len(merged))
	for _, el := range merged {
		firstLine, _, _ := strings.Cut(el.Text, "\n")
		heading := el.Heading
		if m := sectionRe.FindStringSubmatch(firstLine); m != nil {
			section = strings.ReplaceAll(strings.TrimSpace(m[1]), ":", "")
			heading = true
		}
		out = append(out, Element{
			Text:    el.Text,
			Page:    el.Page,
			Section: section,
			Heading: heading,
		})
	}
	return &Document{Elements: out}
}
