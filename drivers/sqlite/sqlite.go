// Package sqlite implements driver.Driver and driver.Connection for
// SQLite, using mattn/go-sqlite3. SQLite has no session-scoped advisory
// lock primitive, so mutual exclusion is implemented with a row-mutex
// table (nomad_lock) guarded by a single-connection pool and BEGIN
// IMMEDIATE. DDL is not transactional in the sense the other two
// dialects mean it: SQLite's ALTER TABLE subset is limited enough that
// nomad treats it the same as MySQL, with SupportsTransactionalDDL false.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	gosqlite3 "github.com/mattn/go-sqlite3"

	"github.com/db-journey/nomad/driver"
	"github.com/db-journey/nomad/nomaderr"
)

func init() {
	driver.Register("sqlite3", Open)
	driver.Register("sqlite", Open)
}

// Driver is the sqlite driver.Driver implementation. The underlying pool
// is always capped at one connection, since SQLite's BEGIN IMMEDIATE
// semantics and our row-mutex lock table both assume a single writer
// connection per process.
type Driver struct {
	db       *sql.DB
	ownsPool bool
	table    string
}

// Open resolves url (":memory:", "sqlite::memory:", "sqlite3://path",
// "sqlite://path", "file:path", or a bare path) and returns an
// unconnected, single-connection Driver.
func Open(url string) (driver.Driver, error) {
	dsn := resolveDSN(url)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nomaderr.Connection("sqlite: open", err)
	}
	db.SetMaxOpenConns(1)
	return &Driver{db: db, ownsPool: true, table: "nomad_migrations"}, nil
}

// Wrap builds a Driver around a caller-supplied *sql.DB, which Close will
// not close. The caller is responsible for having capped it to one
// connection.
func Wrap(db *sql.DB, table string) *Driver {
	if table == "" {
		table = "nomad_migrations"
	}
	return &Driver{db: db, table: table}
}

func resolveDSN(url string) string {
	switch {
	case url == ":memory:" || url == "sqlite::memory:":
		return ":memory:"
	case strings.HasPrefix(url, "sqlite3://"):
		return strings.TrimPrefix(url, "sqlite3://")
	case strings.HasPrefix(url, "sqlite://"):
		return strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "file:"):
		return url
	default:
		return url
	}
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

func (d *Driver) NowExpression() string { return "CURRENT_TIMESTAMP" }

func (d *Driver) SupportsTransactionalDDL() bool { return false }

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

// MapError classifies a raw mattn/go-sqlite3 error into a *nomaderr.Error.
// go-sqlite3 carries only numeric codes, not source position, so unlike
// Postgres the mapped message never includes a statement offset.
func (d *Driver) MapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr gosqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == gosqlite3.ErrCantOpen || sqliteErr.Code == gosqlite3.ErrBusy {
			return nomaderr.Connection(sqliteErr.Error(), err)
		}
		return nomaderr.SQL(sqliteErr.Error(), err)
	}
	return nomaderr.Connection(err.Error(), err)
}
