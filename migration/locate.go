package migration

import (
	"go/token"
	"strings"
)

// LineColumn returns the 1-based line and column at which stmt first
// appears within content, or (1, 1) if it cannot be found (content was
// rewritten between parse and execution, or stmt was normalized).
func LineColumn(content, stmt string) (line, column int) {
	offset := strings.Index(content, stmt)
	if offset < 0 {
		return 1, 1
	}

	fs := token.NewFileSet()
	tf := fs.AddFile("", fs.Base(), len(content))
	tf.SetLinesForContent([]byte(content))
	pos := tf.Position(tf.Pos(offset))
	return pos.Line, pos.Column
}
