// Package postgres implements driver.Driver and driver.Connection for
// PostgreSQL, using lib/pq and pg_try_advisory_lock for mutual exclusion.
package postgres

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/db-journey/nomad/driver"
	"github.com/db-journey/nomad/nomaderr"
)

func init() {
	driver.Register("postgres", Open)
	driver.Register("postgresql", Open)
}

// Driver is the postgres driver.Driver implementation. It owns a
// connection pool; Connect hands out one *sql.Conn at a time.
type Driver struct {
	db       *sql.DB
	ownsPool bool
	schema   string
	table    string
}

// Open dials url ("postgres://..." or "postgresql://...") and returns an
// unconnected Driver. It does not probe the connection; callers should
// call ProbeConnection explicitly.
func Open(url string) (driver.Driver, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, nomaderr.Connection("postgres: open", err)
	}
	return &Driver{db: db, ownsPool: true, schema: "public", table: "nomad_migrations"}, nil
}

// Wrap builds a Driver around a caller-supplied *sql.DB, which Close will
// not close.
func Wrap(db *sql.DB, schema, table string) *Driver {
	if schema == "" {
		schema = "public"
	}
	if table == "" {
		table = "nomad_migrations"
	}
	return &Driver{db: db, schema: schema, table: table}
}

func (d *Driver) Close() error {
	if !d.ownsPool {
		return nil
	}
	return d.db.Close()
}

func (d *Driver) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Driver) NowExpression() string { return "NOW()" }

func (d *Driver) SupportsTransactionalDDL() bool { return true }

func (d *Driver) ProbeConnection(ctx context.Context) error {
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return d.MapError(err)
	}
	return nil
}

func (d *Driver) Connect(ctx context.Context) (driver.Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, d.MapError(err)
	}
	return &connection{driver: d, conn: conn}, nil
}

// MapError classifies a raw lib/pq (or database/sql) error into a
// *nomaderr.Error carrying SQLSTATE and message detail, per spec.md
// §4.5's SQLSTATE-plus-message-substring heuristics: class 08
// (connection exception), 28P01/28000 (authentication failure), 3D000
// (database does not exist), and 57P03 (server not yet accepting
// connections) all classify as ConnectionError; a malformed connection
// string (caught before any SQLSTATE exists) classifies as
// ParseConfigError; everything else is SqlError.
func (d *Driver) MapError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		msg := fmt.Sprintf("%s %s: %s", pqErr.Severity, pqErr.Code, pqErr.Message)
		switch {
		case pqErr.Code.Class() == "08": // connection exception
			return nomaderr.Connection(msg, err)
		case pqErr.Code == "28P01", pqErr.Code == "28000": // authentication failure
			return nomaderr.Connection(msg, err)
		case pqErr.Code == "3D000": // database does not exist
			return nomaderr.Connection(msg, err)
		case pqErr.Code == "57P03": // cannot connect now
			return nomaderr.Connection(msg, err)
		default:
			return nomaderr.SQL(msg, err)
		}
	}

	if isMalformedConnString(err) {
		return nomaderr.ParseConfig(err.Error(), err)
	}
	return nomaderr.Connection(err.Error(), err)
}

// isMalformedConnString reports whether err looks like it came from
// lib/pq's DSN/URL parser rather than from a live connection attempt, so
// it can be classified as ParseConfigError instead of ConnectionError.
func isMalformedConnString(err error) bool {
	msg := strings.ToLower(err.Error())
	markers := []string{
		"invalid dsn",
		"invalid connection option",
		`missing "=" after`,
		"unexpected option",
		"invalid port",
	}
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// statementPosition extracts the 1-based byte offset lib/pq reports for a
// syntax error, or -1 if unavailable.
func statementPosition(err error) int {
	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Position == "" {
		return -1
	}
	pos, convErr := strconv.Atoi(pqErr.Position)
	if convErr != nil {
		return -1
	}
	return pos
}

// advisoryLockID derives a 31-bit positive integer from the first 4 bytes
// of a SHA-256 lock key hex string, since pg_try_advisory_lock takes a
// bigint and we want a value that fits comfortably and deterministically
// without relying on signedness quirks across client libraries.
func advisoryLockID(hexKey string) (int64, error) {
	if len(hexKey) < 8 {
		return 0, fmt.Errorf("postgres: lock key %q too short", hexKey)
	}
	b, err := hex.DecodeString(hexKey[:8])
	if err != nil {
		return 0, fmt.Errorf("postgres: decode lock key: %w", err)
	}
	v := int64(b[0])<<24 | int64(b[1])<<16 | int64(b[2])<<8 | int64(b[3])
	return v%2147483647 + 1, nil
}
