// Package event defines nomad's NDJSON event vocabulary and a
// best-effort emitter. A serialization failure here must never abort a
// migration, so Emit swallows marshal and write errors after a single
// attempt to report them to the emitter's onError callback.
package event

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Kind names one of the emitted record types.
type Kind string

const (
	LockAcquired Kind = "lock-acquired"
	LockReleased Kind = "lock-released"
	ApplyStart   Kind = "apply-start"
	StmtRun      Kind = "stmt-run"
	ApplyEnd     Kind = "apply-end"
	VerifyStart  Kind = "verify-start"
	VerifyEnd    Kind = "verify-end"
)

// Record is one NDJSON line. Fields are tagged `omitempty` so each Kind
// only carries the fields relevant to it.
type Record struct {
	Kind    Kind   `json:"kind"`
	RunID   string `json:"run_id"`
	Version uint64 `json:"version,omitempty"`
	Direction string `json:"direction,omitempty"`
	Preview string `json:"preview,omitempty"`
	Ms      int64  `json:"ms,omitempty"`
	Drift   int    `json:"drift,omitempty"`
	Missing int    `json:"missing,omitempty"`
}

// Emitter writes Records as newline-delimited JSON to an underlying
// writer. The zero value is a no-op emitter (Enabled() is false).
type Emitter struct {
	mu      sync.Mutex
	w       io.Writer
	runID   string
	onError func(error)
}

// NewEmitter returns an Emitter that writes to w, stamping every record
// with a fresh run correlation ID. onError, if non-nil, is called
// (best-effort) when a record fails to serialize; it must not panic.
func NewEmitter(w io.Writer, onError func(error)) *Emitter {
	if w == nil {
		return &Emitter{}
	}
	return &Emitter{w: w, runID: uuid.NewString(), onError: onError}
}

// Enabled reports whether this emitter actually writes anywhere.
func (e *Emitter) Enabled() bool {
	return e != nil && e.w != nil
}

// Emit serializes rec as one NDJSON line. Marshal or write failures are
// reported to onError (if set) and otherwise swallowed: event emission
// must never abort a migration.
func (e *Emitter) Emit(rec Record) {
	if !e.Enabled() {
		return
	}
	rec.RunID = e.runID

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		if e.onError != nil {
			e.onError(err)
		}
		return
	}
	b = append(b, '\n')
	if _, err := e.w.Write(b); err != nil {
		if e.onError != nil {
			e.onError(err)
		}
	}
}
