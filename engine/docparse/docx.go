package docparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

// docxDocument mirrors the parts of word/document.xml we read. Match is by
// local name, so the w: namespace prefix is irrelevant.
type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []struct {
		Content string `xml:",chardata"`
	} `xml:"t"`
}

// parseDOCX extracts one element per non-empty paragraph of the main document
// part. Page numbers are synthesized: every wordsPerPageDocx words start a
// new page, with the paragraph that crosses the boundary kept on the old one.
func parseDOCX(data []byte) ([]rawElement, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("docparse: open docx: %w: not a zip container", domain.ErrParseFailure)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("docparse: open docx: %w: %v", domain.ErrParseFailure, err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("docparse: read docx: %w: %v", domain.ErrParseFailure, err)
		}
		break
	}
	if docXML == nil {
		return nil, fmt.Errorf("docparse: docx: %w: missing word/document.xml", domain.ErrParseFailure)
	}

	var doc docxDocument
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return nil, fmt.Errorf("docparse: docx: %w: %v", domain.ErrParseFailure, err)
	}

	var (
		els   []rawElement
		words int
		page  = 1
	)
	for _, para := range doc.Body.Paragraphs {
		var sb strings.Builder
		for _, run := range para.Runs {
			for _, t := range run.Text {
				sb.WriteString(t.Content)
			}
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		els = append(els, rawElement{
			Text:    text,
			Page:    page,
			Heading: strings.HasPrefix(para.Props.Style.Val, "Heading"),
		})
		words += len(strings.Fields(text))
		if words >= wordsPerPageDocx {
			page++
			words = 0
		}
	}
	return els, nil
}
