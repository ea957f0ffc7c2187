// Package nomaderr defines nomad's typed error taxonomy. Every error that
// crosses a package boundary in this module implements Error, carrying a
// Kind and a stable process exit code, so callers never need to inspect
// driver-specific error types or SQLSTATE/errno values directly.
package nomaderr

import "fmt"

// Kind classifies an error into one of the seven taxonomy buckets spec'd
// for this system. Each Kind has exactly one stable exit code.
type Kind string

const (
	KindConnection        Kind = "ConnectionError"
	KindSQL               Kind = "SqlError"
	KindDrift             Kind = "DriftError"
	KindLockTimeout       Kind = "LockTimeoutError"
	KindParseConfig       Kind = "ParseConfigError"
	KindMissingFile       Kind = "MissingFileError"
	KindChecksumMismatch  Kind = "ChecksumMismatchError"
)

var exitCodes = map[Kind]int{
	KindSQL:              1,
	KindDrift:            2,
	KindLockTimeout:      3,
	KindParseConfig:      4,
	KindMissingFile:      5,
	KindChecksumMismatch: 6,
	KindConnection:       7,
}

// ExitCode returns the stable process exit code for k, or 1 if k is not a
// recognized kind (defensive default matching a generic SQL failure).
func ExitCode(k Kind) int {
	if code, ok := exitCodes[k]; ok {
		return code
	}
	return 1
}

// Error is a tagged error carrying a stable exit code.
type Error struct {
	kind    Kind
	message string
	cause   error

	// SQL-error-only source coordinates, set by the migrator when
	// annotating a failed statement (never set by a driver).
	File   string
	Line   int
	Column int
	SQL    string
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's taxonomy kind.
func (e *Error) Kind() Kind { return e.kind }

// ExitCode returns the stable process exit code for this error.
func (e *Error) ExitCode() int { return ExitCode(e.kind) }

func new(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Connection wraps cause as a ConnectionError (exit 7).
func Connection(message string, cause error) *Error {
	return new(KindConnection, message, cause)
}

// SQL wraps cause as a SqlError (exit 1), optionally annotated with the
// source coordinates of the failing statement. Annotation happens only in
// the migrator, never inside a driver.
func SQL(message string, cause error) *Error {
	return new(KindSQL, message, cause)
}

// WithLocation returns a copy of e annotated with file/line/column/sql,
// used by the migrator to locate a failed statement within its source
// file.
func (e *Error) WithLocation(file string, line, column int, sql string) *Error {
	cp := *e
	cp.File, cp.Line, cp.Column, cp.SQL = file, line, column, sql
	return &cp
}

// Drift reports that one or more applied versions have a checksum that no
// longer matches their on-disk file (exit 2).
func Drift(message string) *Error {
	return new(KindDrift, message, nil)
}

// LockTimeout reports that acquireLock did not succeed within the
// configured timeout (exit 3).
func LockTimeout(message string) *Error {
	return new(KindLockTimeout, message, nil)
}

// ParseConfig reports invalid configuration or an unparseable migration
// file (exit 4).
func ParseConfig(message string, cause error) *Error {
	return new(KindParseConfig, message, cause)
}

// MissingFile reports that an applied version has no corresponding file
// on disk (exit 5).
func MissingFile(message string) *Error {
	return new(KindMissingFile, message, nil)
}

// ChecksumMismatch reports the per-migration variant of drift, detected at
// execution time (exit 6).
func ChecksumMismatch(message string) *Error {
	return new(KindChecksumMismatch, message, nil)
}
