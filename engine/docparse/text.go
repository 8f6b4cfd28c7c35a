package docparse

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

var blankLineRe = regexp.MustCompile(`\n[ \t]*\n`)

// parseTXT splits plain text into paragraphs on blank lines. Line structure
// inside a paragraph is preserved so list detection still sees it.
func parseTXT(data []byte) ([]rawElement, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("docparse: txt: %w: invalid utf-8", domain.ErrParseFailure)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var els []rawElement
	for _, block := range blankLineRe.Split(text, -1) {
		lines := strings.Split(block, "\n")
		for i, ln := range lines {
			lines[i] = strings.TrimRight(ln, " \t")
		}
		para := strings.TrimSpace(strings.Join(lines, "\n"))
		if para == "" {
			continue
		}
		els = append(els, rawElement{Text: para, Page: 1})
	}
	return els, nil
}
