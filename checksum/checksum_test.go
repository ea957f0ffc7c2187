package checksum

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateIsDeterministic(t *testing.T) {
	content := "CREATE TABLE t(id int);\n"
	a := Calculate(content)
	b := Calculate(content)
	require.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, strings.ToLower(a), a)
}

func TestCalculateNormalizesCRLF(t *testing.T) {
	lf := Calculate("select 1;\nselect 2;\n")
	crlf := Calculate("select 1;\r\nselect 2;\r\n")
	cr := Calculate("select 1;\rselect 2;\r")
	assert.Equal(t, lf, crlf)
	assert.Equal(t, lf, cr)
}

func TestCalculateStripsBOM(t *testing.T) {
	withBOM := "\xEF\xBB\xBFselect 1;\n"
	withoutBOM := "select 1;\n"
	assert.Equal(t, Calculate(withoutBOM), Calculate(withBOM))
}

func TestCalculateUnicodeStable(t *testing.T) {
	content := "-- comment with émoji 🎉\nSELECT 'héllo';\n"
	assert.Equal(t, Calculate(content), Calculate(content))
	assert.Len(t, Calculate(content), 64)
}

func TestVerify(t *testing.T) {
	content := "CREATE TABLE t(id int);\n"
	sum := Calculate(content)
	assert.True(t, Verify(content, strings.ToUpper(sum)))
	assert.False(t, Verify(content, "deadbeef"))
}

func TestCalculateLargeInput(t *testing.T) {
	var b strings.Builder
	line := "INSERT INTO t(id) VALUES (1);\n"
	for i := 0; i < (10<<20)/len(line)+1; i++ {
		b.WriteString(line)
	}
	content := b.String()
	require.GreaterOrEqual(t, len(content), 10<<20)
	sum := Calculate(content)
	assert.Len(t, sum, 64)
}
