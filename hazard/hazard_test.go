package hazard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db-journey/nomad/sqlseg"
)

func TestDetectCreateIndexConcurrently(t *testing.T) {
	hz := Detect("CREATE INDEX CONCURRENTLY idx ON t(id);")
	require.Len(t, hz, 1)
	assert.Equal(t, CreateIndexConcurrently, hz[0].Type)
	assert.Equal(t, 1, hz[0].Line)
	assert.Equal(t, 1, hz[0].Column)
	assert.Equal(t, "CREATE INDEX CONCURRENTLY idx ON t(id);", hz[0].Statement)
}

func TestDetectOrdersByDocumentPosition(t *testing.T) {
	sql := "VACUUM;\nCREATE DATABASE foo;\n"
	hz := Detect(sql)
	require.Len(t, hz, 2)
	assert.Equal(t, Vacuum, hz[0].Type)
	assert.Equal(t, CreateDatabase, hz[1].Type)
}

func TestDetectIgnoresComments(t *testing.T) {
	hz := Detect("-- VACUUM;\nSELECT 1;")
	assert.Empty(t, hz)
}

func TestDetectIgnoresStrings(t *testing.T) {
	hz := Detect(`SELECT 'please run VACUUM later';`)
	assert.Empty(t, hz)
}

func TestDetectNeverPointsIntoNonCodeSegment(t *testing.T) {
	sql := "-- a comment with VACUUM in it\nVACUUM;\nSELECT '...REINDEX...';"
	hz := Detect(sql)
	segs := sqlseg.Segments(sql)
	for _, h := range hz {
		inCode := false
		for _, seg := range segs {
			if !seg.IsCode {
				continue
			}
			// crude bounds check: hazard line falls within this code segment's span
			lines := 0
			for _, c := range seg.Content {
				if c == '\n' {
					lines++
				}
			}
			if h.Line >= seg.StartLine && h.Line <= seg.StartLine+lines {
				inCode = true
			}
		}
		assert.True(t, inCode, "hazard %+v not located in a code segment", h)
	}
}

func TestDetectMySQLAlterAlgorithmLock(t *testing.T) {
	hz := Detect("ALTER TABLE t ADD COLUMN c INT, ALGORITHM=INPLACE, LOCK=NONE;")
	require.Len(t, hz, 1)
	assert.Equal(t, AlterTableAlgorithmOrLock, hz[0].Type)
}

func TestValidateNoHazards(t *testing.T) {
	res, err := Validate(nil, false, Policy{})
	require.NoError(t, err)
	assert.False(t, res.SkipTransaction)

	res, err = Validate(nil, true, Policy{})
	require.NoError(t, err)
	assert.True(t, res.SkipTransaction)
}

func TestValidateNotxDirective(t *testing.T) {
	hz := Detect("VACUUM;")
	res, err := Validate(hz, true, Policy{})
	require.NoError(t, err)
	assert.True(t, res.SkipTransaction)
	assert.Equal(t, "notx directive", res.Reason)
}

func TestValidateAutoNotx(t *testing.T) {
	hz := Detect("VACUUM;")
	res, err := Validate(hz, false, Policy{AutoNotx: true})
	require.NoError(t, err)
	assert.True(t, res.SkipTransaction)
	assert.NotEmpty(t, res.Warning)
}

func TestValidateStrictFails(t *testing.T) {
	hz := Detect("CREATE INDEX CONCURRENTLY idx ON t(id);")
	_, err := Validate(hz, false, Policy{})
	require.Error(t, err)
	var strictErr *StrictHazardError
	require.ErrorAs(t, err, &strictErr)
	assert.Contains(t, err.Error(), "CREATE_INDEX_CONCURRENTLY")
	assert.Contains(t, err.Error(), "1:1")
}
