package migration

import (
	"regexp"
	"strings"

	"github.com/db-journey/nomad/nomaderr"
	"github.com/db-journey/nomad/sqlseg"
)

var directiveRe = regexp.MustCompile(`(?i)^\s*--\s*\+nomad\s+([^\s:]+)\s*(.*)$`)

type piece struct {
	text    string
	literal bool
}

type sectionBuilder struct {
	pieces   []piece
	rawBuf   strings.Builder
	notx     bool
	inBlock  bool
	blockBuf strings.Builder
}

func (sb *sectionBuilder) flushRaw() {
	if sb.rawBuf.Len() > 0 {
		sb.pieces = append(sb.pieces, piece{text: sb.rawBuf.String()})
		sb.rawBuf.Reset()
	}
}

func (sb *sectionBuilder) writeLine(line string) {
	if sb.inBlock {
		sb.blockBuf.WriteString(line)
		sb.blockBuf.WriteByte('\n')
		return
	}
	sb.rawBuf.WriteString(line)
	sb.rawBuf.WriteByte('\n')
}

func (sb *sectionBuilder) build() (Section, error) {
	sb.flushRaw()
	if sb.inBlock {
		return Section{}, nomaderr.ParseConfig("unterminated -- +nomad block", nil)
	}
	var stmts []string
	for _, p := range sb.pieces {
		if p.literal {
			t := strings.TrimSpace(p.text)
			if t != "" {
				stmts = append(stmts, t)
			}
			continue
		}
		stmts = append(stmts, splitStatements(p.text)...)
	}
	return Section{Statements: stmts, Notx: sb.notx}, nil
}

// Parse splits content into Up and Down sections, extracting the notx,
// tags, and block/endblock directives. It fails with a ParseConfigError
// if no "-- +nomad Up" directive is present, per the default legacy
// policy described in the spec.
func Parse(content string) (*ParsedMigration, error) {
	lines := strings.Split(content, "\n")

	up := &sectionBuilder{}
	down := &sectionBuilder{}
	var current *sectionBuilder
	seenUp := false
	fileNoTx := false
	var tags []string

	for _, line := range lines {
		m := directiveRe.FindStringSubmatch(line)
		if m == nil {
			if current != nil {
				current.writeLine(line)
			}
			continue
		}

		keyword := strings.ToLower(m[1])
		rest := strings.TrimSpace(m[2])

		// Inside a block, only endblock closes it; everything else
		// (even something that looks like a directive) is literal.
		if current != nil && current.inBlock && keyword != "endblock" {
			current.writeLine(line)
			continue
		}

		switch keyword {
		case "up":
			current = up
			seenUp = true
		case "down":
			current = down
		case "notx":
			if current == nil {
				fileNoTx = true
			} else {
				current.notx = true
			}
		case "tags":
			tags = parseTags(strings.TrimPrefix(rest, ":"))
		case "block":
			if current == nil {
				return nil, nomaderr.ParseConfig("-- +nomad block outside Up/Down section", nil)
			}
			current.flushRaw()
			current.inBlock = true
			current.blockBuf.Reset()
		case "endblock":
			if current == nil || !current.inBlock {
				return nil, nomaderr.ParseConfig("-- +nomad endblock without matching block", nil)
			}
			current.pieces = append(current.pieces, piece{text: current.blockBuf.String(), literal: true})
			current.inBlock = false
		default:
			// Unrecognized +nomad directive: treated as an ordinary
			// comment line and left in the surrounding section.
			if current != nil {
				current.writeLine(line)
			}
		}
	}

	if !seenUp {
		return nil, nomaderr.ParseConfig("migration file has no -- +nomad Up directive", nil)
	}

	upSection, err := up.build()
	if err != nil {
		return nil, err
	}
	downSection, err := down.build()
	if err != nil {
		return nil, err
	}

	return &ParsedMigration{
		Up:            upSection,
		Down:          downSection,
		Tags:          tags,
		NoTransaction: fileNoTx,
	}, nil
}

func parseTags(raw string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		t := strings.TrimSpace(part)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}

// splitStatements splits text into top-level statements, respecting the
// same comment/string/dollar-quote rules as the hazard detector's
// segmenter. Blank-only statements are dropped; a final unterminated
// statement is kept if non-empty.
func splitStatements(text string) []string {
	var stmts []string
	var buf strings.Builder

	flush := func(raw string) {
		t := strings.TrimSpace(raw)
		if t != "" {
			stmts = append(stmts, t)
		}
	}

	for _, seg := range sqlseg.Segments(text) {
		if !seg.IsCode {
			buf.WriteString(seg.Content)
			continue
		}
		start := 0
		for i := 0; i < len(seg.Content); i++ {
			if seg.Content[i] == ';' {
				buf.WriteString(seg.Content[start : i+1])
				flush(buf.String())
				buf.Reset()
				start = i + 1
			}
		}
		buf.WriteString(seg.Content[start:])
	}
	flush(buf.String())
	return stmts
}
