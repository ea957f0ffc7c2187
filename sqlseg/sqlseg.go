// Package sqlseg implements the hand-rolled SQL segmenter shared by the
// hazard detector and the migration parser. It partitions a SQL source
// into an ordered sequence of code and non-code regions, tracking 1-based
// line/column coordinates byte-by-byte so downstream consumers can report
// precise source locations.
//
// This is a scanner, not a sweep of global regexes: nested and
// self-referential delimiters (dollar-quoted function bodies, escaped
// quoted strings) cannot be segmented correctly by matching patterns in
// isolation against the whole source, because the meaning of any given
// byte depends on the scanner's current state.
package sqlseg

import "regexp"

// Segment is one contiguous region of a SQL source.
type Segment struct {
	Content     string
	IsCode      bool
	StartLine   int
	StartColumn int
}

var reCopyFromStdin = regexp.MustCompile(`(?is)^COPY\s+[^;]+FROM\s+stdin[^;]*;?`)
var reCopyTerminator = regexp.MustCompile(`(?m)^\\\.(?:\r?\n|$)`)

// Segments scans sql and returns its code/non-code segments in document
// order.
func Segments(sql string) []Segment {
	s := &scanner{src: sql, line: 1, col: 1, atStmtStart: true}
	s.run()
	return s.segments
}

// Project maps a byte offset within seg.Content onto absolute 1-based
// line/column coordinates in the original source seg was taken from.
func Project(seg Segment, offset int) (line, col int) {
	line, col = seg.StartLine, seg.StartColumn
	if offset > len(seg.Content) {
		offset = len(seg.Content)
	}
	for i := 0; i < offset; i++ {
		if seg.Content[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

type scanner struct {
	src         string
	pos         int
	line, col   int
	segments    []Segment
	codeBuf     []byte
	codeLine    int
	codeCol     int
	haveCode    bool
	atStmtStart bool
}

func (s *scanner) run() {
	for s.pos < len(s.src) {
		if s.atStmtStart {
			if n, ok := matchCopyFromStdin(s.src[s.pos:]); ok {
				s.consumeCopy(n)
				continue
			}
		}

		c := s.src[s.pos]
		switch {
		case c == '-' && s.peek(1) == '-':
			n := s.lineCommentLen()
			s.emitNonCode(n)
		case c == '/' && s.peek(1) == '*':
			n := s.blockCommentLen()
			s.emitNonCode(n)
		case c == '$':
			if n, ok := s.dollarQuoteLen(); ok {
				s.emitNonCode(n)
				s.atStmtStart = false
				continue
			}
			s.appendCodeByte()
			s.noteCodeByte(c)
		case isQuoteOpenerChar(c):
			if n, ok := s.quotedStringLen(); ok {
				s.emitNonCode(n)
				s.atStmtStart = false
				continue
			}
			s.appendCodeByte()
			s.noteCodeByte(c)
		default:
			s.appendCodeByte()
			s.noteCodeByte(c)
		}
	}
	s.flushCode()
}

func (s *scanner) noteCodeByte(c byte) {
	switch c {
	case ';':
		s.atStmtStart = true
	case ' ', '\t', '\n', '\r':
		// whitespace does not change statement-start status
	default:
		s.atStmtStart = false
	}
}

func (s *scanner) peek(n int) byte {
	if s.pos+n >= len(s.src) {
		return 0
	}
	return s.src[s.pos+n]
}

func (s *scanner) advance() {
	if s.src[s.pos] == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	s.pos++
}

func (s *scanner) appendCodeByte() {
	if !s.haveCode {
		s.codeLine, s.codeCol = s.line, s.col
		s.haveCode = true
	}
	s.codeBuf = append(s.codeBuf, s.src[s.pos])
	s.advance()
}

func (s *scanner) flushCode() {
	if !s.haveCode {
		return
	}
	s.segments = append(s.segments, Segment{
		Content:     string(s.codeBuf),
		IsCode:      true,
		StartLine:   s.codeLine,
		StartColumn: s.codeCol,
	})
	s.codeBuf = s.codeBuf[:0]
	s.haveCode = false
}

// emitNonCode flushes any pending code, then consumes and records the
// next n bytes from the current position as a non-code segment.
func (s *scanner) emitNonCode(n int) {
	if n <= 0 {
		return
	}
	s.flushCode()
	text := s.src[s.pos : s.pos+n]
	seg := Segment{Content: text, IsCode: false, StartLine: s.line, StartColumn: s.col}
	for i := 0; i < n; i++ {
		s.advance()
	}
	s.segments = append(s.segments, seg)
}

// lineCommentLen returns the length of a "--" comment starting at s.pos,
// not including the terminating newline.
func (s *scanner) lineCommentLen() int {
	end := len(s.src)
	for i := s.pos + 2; i < len(s.src); i++ {
		if s.src[i] == '\n' {
			end = i
			break
		}
	}
	return end - s.pos
}

// blockCommentLen returns the length of a "/* ... */" comment starting at
// s.pos, including both delimiters. No nesting.
func (s *scanner) blockCommentLen() int {
	close := indexFrom(s.src, s.pos+2, "*/")
	if close < 0 {
		return len(s.src) - s.pos
	}
	return close + 2 - s.pos
}

// dollarQuoteLen returns the length of a dollar-quoted body starting at
// s.pos (s.src[s.pos] == '$'), including both tags.
func (s *scanner) dollarQuoteLen() (int, bool) {
	closeTagStart := -1
	for i := s.pos + 1; i < len(s.src); i++ {
		if s.src[i] == '$' {
			closeTagStart = i
			break
		}
	}
	if closeTagStart < 0 {
		return 0, false
	}
	tag := s.src[s.pos : closeTagStart+1]
	bodyStart := closeTagStart + 1
	close := indexFrom(s.src, bodyStart, tag)
	if close < 0 {
		return 0, false
	}
	return close + len(tag) - s.pos, true
}

// quotedStringLen returns the length of a quoted string literal starting
// at s.pos, handling the standard prefixes.
func (s *scanner) quotedStringLen() (int, bool) {
	openLen, escapeMode, ok := s.stringOpenerLen()
	if !ok {
		return 0, false
	}
	i := s.pos + openLen
	for i < len(s.src) {
		if escapeMode && s.src[i] == '\\' && i+1 < len(s.src) {
			i += 2
			continue
		}
		if s.src[i] == '\'' {
			if i+1 < len(s.src) && s.src[i+1] == '\'' {
				i += 2
				continue
			}
			i++
			return i - s.pos, true
		}
		i++
	}
	return i - s.pos, true
}

// stringOpenerLen identifies which (if any) string-opener form begins at
// s.pos, returning the length of the opener and whether it enables
// backslash escaping (E'...' only).
func (s *scanner) stringOpenerLen() (openLen int, escapeMode bool, ok bool) {
	c := s.src[s.pos]
	if c == '\'' {
		return 1, false, true
	}
	if s.precededByWordChar() {
		return 0, false, false
	}
	upper := c &^ 0x20 // cheap ASCII uppercase
	switch upper {
	case 'E':
		if s.peek(1) == '\'' {
			return 2, true, true
		}
	case 'B', 'X':
		if s.peek(1) == '\'' {
			return 2, false, true
		}
	case 'U':
		if s.peek(1) == '&' && s.peek(2) == '\'' {
			return 3, false, true
		}
	}
	return 0, false, false
}

func (s *scanner) precededByWordChar() bool {
	if s.pos == 0 {
		return false
	}
	return isWordByte(s.src[s.pos-1])
}

// consumeCopy appends the matched COPY ... FROM stdin preamble as code,
// then scans for the backslash-dot terminator and emits the payload
// between them as a single non-code segment.
func (s *scanner) consumeCopy(preambleLen int) {
	for i := 0; i < preambleLen; i++ {
		s.appendCodeByte()
	}
	s.flushCode()

	rest := s.src[s.pos:]
	payloadLen := len(rest)
	if loc := reCopyTerminator.FindStringIndex(rest); loc != nil {
		payloadLen = loc[1]
	}
	s.emitNonCode(payloadLen)
	s.atStmtStart = true
}

func matchCopyFromStdin(rest string) (int, bool) {
	m := reCopyFromStdin.FindString(rest)
	if m == "" {
		return 0, false
	}
	return len(m), true
}

func isQuoteOpenerChar(c byte) bool {
	switch c {
	case '\'', 'E', 'e', 'U', 'u', 'B', 'b', 'X', 'x':
		return true
	}
	return false
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

func indexFrom(s string, from int, sub string) int {
	if from >= len(s) {
		return -1
	}
	idx := indexString(s[from:], sub)
	if idx < 0 {
		return -1
	}
	return idx + from
}

// indexString is strings.Index, inlined to avoid importing strings for a
// single call site used in a hot scanning loop.
func indexString(s, sub string) int {
	n := len(sub)
	if n == 0 {
		return 0
	}
	for i := 0; i+n <= len(s); i++ {
		if s[i:i+n] == sub {
			return i
		}
	}
	return -1
}
