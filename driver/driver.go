// Package driver defines the dialect-neutral contract every nomad
// database backend implements, plus the registry drivers register
// themselves into and the deterministic lock-key derivation shared by
// all three lock primitives.
package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AppliedRow is one row from the migrations table, normalized across
// dialects: Version is always a 64-bit unsigned integer regardless of
// the column's wire representation, and Checksum is empty for legacy
// rows whose stored checksum is NULL.
type AppliedRow struct {
	Version      uint64
	Name         string
	Checksum     string
	AppliedAt    time.Time
	RolledBackAt *time.Time
}

// MarkApplied is the upsert payload for recording a migration as applied.
type MarkApplied struct {
	Version  uint64
	Name     string
	Checksum string
}

// Rows is the normalized result of a read-only query.
type Rows struct {
	Columns []string
	Data    [][]any
}

// Driver is the narrow, dialect-neutral contract the migrator programs
// against. Concrete drivers live in drivers/postgres, drivers/mysql, and
// drivers/sqlite.
type Driver interface {
	// Connect acquires a single physical connection.
	Connect(ctx context.Context) (Connection, error)

	// Close releases pool-level resources owned by this Driver. A Driver
	// constructed around a caller-supplied *sql.DB does not close it.
	Close() error

	// QuoteIdent applies this dialect's identifier quoting, doubling any
	// internal occurrence of the quote delimiter.
	QuoteIdent(name string) string

	// NowExpression is this dialect's SQL "current timestamp" expression,
	// used in table-management templates.
	NowExpression() string

	// SupportsTransactionalDDL reports whether DDL statements participate
	// in transactions on this dialect.
	SupportsTransactionalDDL() bool

	// ProbeConnection issues a trivial round-trip (SELECT 1) and maps any
	// failure through MapError.
	ProbeConnection(ctx context.Context) error

	// MapError classifies a raw driver/database error into a *nomaderr.Error.
	MapError(err error) error
}

// Connection is a single physical connection, owned exclusively by the
// operation that acquired it.
type Connection interface {
	EnsureMigrationsTable(ctx context.Context) error
	FetchAppliedMigrations(ctx context.Context) ([]AppliedRow, error)
	MarkMigrationApplied(ctx context.Context, m MarkApplied) error
	MarkMigrationRolledBack(ctx context.Context, version uint64) error

	AcquireLock(ctx context.Context, hexKey string, timeout time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, hexKey string) error

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	RunStatement(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string, args ...any) (*Rows, error)

	Dispose() error
}

// LockKey derives the deterministic hex key each driver maps onto its
// native lock primitive: SHA-256 of "url|schema|table|dir".
func LockKey(url, schema, table, dir string) string {
	sum := sha256.Sum256([]byte(url + "|" + schema + "|" + table + "|" + dir))
	return hex.EncodeToString(sum[:])
}
