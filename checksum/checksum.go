// Package checksum computes the content-addressed digest nomad uses to
// detect drift between an applied migration row and the file on disk.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const bom = rune(0xFEFF)

// Calculate returns the 64-char lowercase hex SHA-256 digest of content,
// after normalizing line endings and stripping a leading BOM.
func Calculate(content string) string {
	sum := sha256.Sum256([]byte(Canonicalize(content)))
	return hex.EncodeToString(sum[:])
}

// Canonicalize strips a leading UTF-8 BOM and converts CRLF/CR line
// endings to LF. It is exposed so callers can reason about what bytes
// were actually hashed.
func Canonicalize(content string) string {
	content = strings.TrimPrefix(content, string(bom))

	var b strings.Builder
	b.Grow(len(content))
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch c {
		case '\r':
			b.WriteByte('\n')
			if i+1 < len(content) && content[i+1] == '\n' {
				i++
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Verify reports whether content hashes to expected, ignoring the case
// of expected's hex digits.
func Verify(content, expected string) bool {
	return strings.EqualFold(Calculate(content), expected)
}
