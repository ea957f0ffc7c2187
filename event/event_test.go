package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledEmitterIsNoop(t *testing.T) {
	var e *Emitter
	assert.False(t, e.Enabled())
	e.Emit(Record{Kind: LockAcquired})

	e2 := NewEmitter(nil, nil)
	assert.False(t, e2.Enabled())
	e2.Emit(Record{Kind: LockAcquired})
}

func TestEmitWritesNDJSONWithRunID(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, nil)
	require.True(t, e.Enabled())

	e.Emit(Record{Kind: ApplyStart, Version: 1, Direction: "up"})
	e.Emit(Record{Kind: ApplyEnd, Version: 1, Direction: "up", Ms: 12})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, ApplyStart, first.Kind)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, int64(12), second.Ms)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, assertErr }

var assertErr = errString("boom")

type errString string

func (e errString) Error() string { return string(e) }

func TestEmitReportsWriteFailureWithoutPanicking(t *testing.T) {
	var reported error
	e := NewEmitter(failingWriter{}, func(err error) { reported = err })
	e.Emit(Record{Kind: VerifyStart})
	assert.Error(t, reported)
}
