package docparse

// Minimal PDF content-stream text interpreter. It tracks the text and line
// matrices plus font size, which is enough to rebuild lines and paragraph
// gaps for machine-generated documents. Glyph strings decode byte-wise
// (UTF-16BE when BOM-marked); CID-keyed fonts come out as best effort.

import (
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

const (
	// sameLineTolerance groups spans whose baselines differ by less.
	sameLineTolerance = 2.0
	// minLineHeight floors the line height used for paragraph detection.
	minLineHeight = 10.0
	// paragraphGapRatio starts a new paragraph when the whitespace between
	// lines exceeds this fraction of the line height.
	paragraphGapRatio = 0.7
	// kernSpaceThreshold reads TJ kerns wider than this (thousandths of an
	// em) as word breaks.
	kernSpaceThreshold = 150.0
)

// span is one text-showing operation placed on the page.
type span struct {
	text string
	x, y float64
	size float64
	seq  int
}

// pageParagraphs rebuilds the paragraph texts of one page from its decoded
// content stream, in reading order.
func pageParagraphs(stream []byte) []string {
	return paragraphsFromSpans(scanSpans(stream))
}

// paragraphsFromSpans sorts spans into reading order, then splits them into
// paragraphs wherever the vertical whitespace between consecutive spans
// exceeds paragraphGapRatio of the line height.
func paragraphsFromSpans(spans []span) []string {
	if len(spans) == 0 {
		return nil
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].y != spans[j].y {
			return spans[i].y > spans[j].y
		}
		if spans[i].x != spans[j].x {
			return spans[i].x < spans[j].x
		}
		return spans[i].seq < spans[j].seq
	})

	var paras []string
	flush := func(parts []string) {
		text := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
		if text != "" {
			paras = append(paras, text)
		}
	}

	cur := []string{spans[0].text}
	for i := 1; i < len(spans); i++ {
		prev, w := spans[i-1], spans[i]
		drop := prev.y - w.y
		sameLine := math.Abs(w.y-prev.y) < sameLineTolerance
		lineHeight := math.Max(minLineHeight, prev.size)
		if !sameLine && drop-lineHeight > lineHeight*paragraphGapRatio {
			flush(cur)
			cur = []string{w.text}
			continue
		}
		cur = append(cur, w.text)
	}
	flush(cur)
	return paras
}

type operandKind uint8

const (
	opNumber operandKind = iota
	opString
	opName
	opArray
	opOperator
	opOther
)

type operand struct {
	kind operandKind
	num  float64
	str  []byte
	arr  []operand
}

type textState struct {
	tm, tlm  matrix
	fontSize float64
	leading  float64
	inText   bool
}

// scanSpans runs the operator loop over one content stream and collects
// every text-showing operation with its position.
func scanSpans(stream []byte) []span {
	s := &contentScanner{data: stream}
	st := textState{tm: identityMatrix, tlm: identityMatrix}
	var (
		stack []operand
		spans []span
	)

	td := func(tx, ty float64) {
		st.tlm = mul(translation(tx, ty), st.tlm)
		st.tm = st.tlm
	}
	show := func(text string) {
		if !st.inText || text == "" {
			return
		}
		size := st.fontSize * math.Hypot(st.tm[2], st.tm[3])
		if size == 0 {
			size = st.fontSize
		}
		spans = append(spans, span{text: text, x: st.tm[4], y: st.tm[5], size: size, seq: len(spans)})
	}

	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		if tok.kind != opOperator {
			stack = append(stack, tok)
			continue
		}

		switch string(tok.str) {
		case "BT":
			st.inText = true
			st.tm, st.tlm = identityMatrix, identityMatrix
		case "ET":
			st.inText = false
		case "Tf":
			if n, ok := lastNums(stack, 1); ok {
				st.fontSize = n[0]
			}
		case "TL":
			if n, ok := lastNums(stack, 1); ok {
				st.leading = n[0]
			}
		case "Td":
			if n, ok := lastNums(stack, 2); ok {
				td(n[0], n[1])
			}
		case "TD":
			if n, ok := lastNums(stack, 2); ok {
				st.leading = -n[1]
				td(n[0], n[1])
			}
		case "Tm":
			if n, ok := lastNums(stack, 6); ok {
				st.tlm = matrix{n[0], n[1], n[2], n[3], n[4], n[5]}
				st.tm = st.tlm
			}
		case "T*":
			td(0, -st.leading)
		case "Tj":
			if b, ok := lastString(stack); ok {
				show(decodeText(b))
			}
		case "'":
			if b, ok := lastString(stack); ok {
				td(0, -st.leading)
				show(decodeText(b))
			}
		case "\"":
			if b, ok := lastString(stack); ok {
				td(0, -st.leading)
				show(decodeText(b))
			}
		case "TJ":
			if arr, ok := lastArray(stack); ok {
				var sb strings.Builder
				for _, el := range arr {
					switch el.kind {
					case opString:
						sb.WriteString(decodeText(el.str))
					case opNumber:
						if el.num < -kernSpaceThreshold {
							sb.WriteByte(' ')
						}
					}
				}
				show(sb.String())
			}
		case "BI":
			s.skipInlineImage()
		}
		stack = stack[:0]
	}
	return spans
}

func lastNums(stack []operand, n int) ([]float64, bool) {
	if len(stack) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		op := stack[len(stack)-n+i]
		if op.kind != opNumber {
			return nil, false
		}
		out[i] = op.num
	}
	return out, true
}

func lastString(stack []operand) ([]byte, bool) {
	if len(stack) == 0 || stack[len(stack)-1].kind != opString {
		return nil, false
	}
	return stack[len(stack)-1].str, true
}

func lastArray(stack []operand) ([]operand, bool) {
	if len(stack) == 0 || stack[len(stack)-1].kind != opArray {
		return nil, false
	}
	return stack[len(stack)-1].arr, true
}

func decodeText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

// matrix is a PDF transformation matrix [a b c d e f] with row-vector
// convention.
type matrix [6]float64

var identityMatrix = matrix{1, 0, 0, 1, 0, 0}

func translation(tx, ty float64) matrix { return matrix{1, 0, 0, 1, tx, ty} }

func mul(a, b matrix) matrix {
	return matrix{
		a[0]*b[0] + a[1]*b[2],
		a[0]*b[1] + a[1]*b[3],
		a[2]*b[0] + a[3]*b[2],
		a[2]*b[1] + a[3]*b[3],
		a[4]*b[0] + a[5]*b[2] + b[4],
		a[4]*b[1] + a[5]*b[3] + b[5],
	}
}

// contentScanner tokenizes a content stream. Malformed input never blocks:
// every path advances the cursor.
type contentScanner struct {
	data []byte
	pos  int
}

func (s *contentScanner) next() (operand, bool) {
	s.skipSpace()
	if s.pos >= len(s.data) {
		return operand{}, false
	}
	c := s.data[s.pos]
	switch {
	case c == '(':
		s.pos++
		return operand{kind: opString, str: s.readLiteralString()}, true
	case c == '<':
		if s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
			s.pos += 2
			s.skipDict()
			return operand{kind: opOther}, true
		}
		s.pos++
		return operand{kind: opString, str: s.readHexString()}, true
	case c == '[':
		s.pos++
		return operand{kind: opArray, arr: s.readArray()}, true
	case c == ']':
		s.pos++
		return operand{kind: opOther}, true
	case c == '/':
		s.pos++
		return operand{kind: opName, str: s.readName()}, true
	case c == '{' || c == '}':
		s.pos++
		return operand{kind: opOther}, true
	case c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.':
		return operand{kind: opNumber, num: s.readNumber()}, true
	default:
		return operand{kind: opOperator, str: s.readRegular()}, true
	}
}

func (s *contentScanner) skipSpace() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if isSpace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *contentScanner) readLiteralString() []byte {
	var out []byte
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.data) {
				return out
			}
			e := s.data[s.pos]
			s.pos++
			switch {
			case e == 'n':
				out = append(out, '\n')
			case e == 'r':
				out = append(out, '\r')
			case e == 't':
				out = append(out, '\t')
			case e == 'b':
				out = append(out, '\b')
			case e == 'f':
				out = append(out, '\f')
			case e == '\n':
				// escaped newline continues the string
			case e == '\r':
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case e >= '0' && e <= '7':
				v := int(e - '0')
				for i := 0; i < 2 && s.pos < len(s.data); i++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					v = v*8 + int(d-'0')
					s.pos++
				}
				out = append(out, byte(v))
			default:
				out = append(out, e)
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func (s *contentScanner) readHexString() []byte {
	var digits []byte
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			break
		}
		if isHexDigit(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	hex.Decode(out, digits)
	return out
}

func (s *contentScanner) readArray() []operand {
	var arr []operand
	for {
		s.skipSpace()
		if s.pos >= len(s.data) {
			return arr
		}
		if s.data[s.pos] == ']' {
			s.pos++
			return arr
		}
		op, ok := s.next()
		if !ok {
			return arr
		}
		arr = append(arr, op)
	}
}

func (s *contentScanner) skipDict() {
	depth := 1
	for depth > 0 && s.pos < len(s.data) {
		s.skipSpace()
		if s.pos+1 < len(s.data) && s.data[s.pos] == '<' && s.data[s.pos+1] == '<' {
			s.pos += 2
			depth++
			continue
		}
		if s.pos+1 < len(s.data) && s.data[s.pos] == '>' && s.data[s.pos+1] == '>' {
			s.pos += 2
			depth--
			continue
		}
		if _, ok := s.next(); !ok {
			return
		}
	}
}

func (s *contentScanner) readName() []byte {
	start := s.pos
	for s.pos < len(s.data) && isRegular(s.data[s.pos]) {
		s.pos++
	}
	return s.data[start:s.pos]
}

func (s *contentScanner) readNumber() float64 {
	start := s.pos
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.' {
			s.pos++
			continue
		}
		break
	}
	v, _ := strconv.ParseFloat(string(s.data[start:s.pos]), 64)
	return v
}

func (s *contentScanner) readRegular() []byte {
	start := s.pos
	for s.pos < len(s.data) && isRegular(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		s.pos++ // lone delimiter
	}
	return s.data[start:s.pos]
}

// skipInlineImage jumps past BI ... ID <binary> EI.
func (s *contentScanner) skipInlineImage() {
	for s.pos+1 < len(s.data) {
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' &&
			(s.pos == 0 || isSpace(s.data[s.pos-1])) &&
			(s.pos+2 >= len(s.data) || !isRegular(s.data[s.pos+2])) {
			s.pos += 2
			return
		}
		s.pos++
	}
	s.pos = len(s.data)
}

func isSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isRegular(c byte) bool {
	if isSpace(c) {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
