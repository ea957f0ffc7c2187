package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/db-journey/nomad/driver"
)

type connection struct {
	driver *Driver
	conn   *sql.Conn
	inTx   bool
}

func (c *connection) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *connection) EnsureMigrationsTable(ctx context.Context) error {
	_, err := c.conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+c.driver.table+` (
	version        INTEGER PRIMARY KEY,
	name           TEXT NOT NULL,
	checksum       TEXT,
	applied_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	rolled_back_at DATETIME
)`)
	if err != nil {
		return c.driver.MapError(err)
	}
	_, err = c.conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS nomad_lock (
	key   TEXT PRIMARY KEY,
	owner TEXT NOT NULL
)`)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) FetchAppliedMigrations(ctx context.Context) ([]driver.AppliedRow, error) {
	rows, err := c.conn.QueryContext(ctx, `
SELECT version, name, COALESCE(checksum, ''), applied_at, rolled_back_at
FROM `+c.driver.table+`
WHERE rolled_back_at IS NULL
ORDER BY version ASC`)
	if err != nil {
		return nil, c.driver.MapError(err)
	}
	defer rows.Close()

	var out []driver.AppliedRow
	for rows.Next() {
		var r driver.AppliedRow
		var rolledBack sql.NullTime
		if err := rows.Scan(&r.Version, &r.Name, &r.Checksum, &r.AppliedAt, &rolledBack); err != nil {
			return nil, c.driver.MapError(err)
		}
		if rolledBack.Valid {
			t := rolledBack.Time
			r.RolledBackAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, c.driver.MapError(err)
	}
	return out, nil
}

func (c *connection) MarkMigrationApplied(ctx context.Context, m driver.MarkApplied) error {
	_, err := c.exec(ctx, `
INSERT INTO `+c.driver.table+` (version, name, checksum, applied_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(version) DO UPDATE SET
	name = excluded.name,
	checksum = excluded.checksum,
	applied_at = CURRENT_TIMESTAMP,
	rolled_back_at = NULL`, m.Version, m.Name, m.Checksum)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) MarkMigrationRolledBack(ctx context.Context, version uint64) error {
	_, err := c.exec(ctx, `UPDATE `+c.driver.table+` SET rolled_back_at = CURRENT_TIMESTAMP WHERE version = ?`, version)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

// AcquireLock emulates a try-lock with a row-mutex table: INSERT OR
// IGNORE succeeds (one row affected) only for the first caller to claim
// hexKey, since the key is the table's primary key.
func (c *connection) AcquireLock(ctx context.Context, hexKey string, timeout time.Duration) (bool, error) {
	return driver.PollTryLock(ctx, timeout, func(ctx context.Context) (bool, error) {
		res, err := c.conn.ExecContext(ctx, `INSERT OR IGNORE INTO nomad_lock (key, owner) VALUES (?, ?)`, hexKey, "nomad")
		if err != nil {
			return false, c.driver.MapError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, c.driver.MapError(err)
		}
		return n == 1, nil
	})
}

func (c *connection) ReleaseLock(ctx context.Context, hexKey string) error {
	_, err := c.conn.ExecContext(ctx, `DELETE FROM nomad_lock WHERE key = ?`, hexKey)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

// BeginTransaction issues BEGIN IMMEDIATE rather than the driver's plain
// BEGIN, which would defer acquiring the write lock until the first write
// statement and permit two connections to interleave reads beforehand.
func (c *connection) BeginTransaction(ctx context.Context) error {
	if c.inTx {
		return errors.New("sqlite: transaction already open")
	}
	if _, err := c.conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return c.driver.MapError(err)
	}
	c.inTx = true
	return nil
}

func (c *connection) CommitTransaction(ctx context.Context) error {
	if !c.inTx {
		return errors.New("sqlite: no transaction open")
	}
	_, err := c.conn.ExecContext(ctx, "COMMIT")
	c.inTx = false
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) RollbackTransaction(ctx context.Context) error {
	if !c.inTx {
		return nil
	}
	_, err := c.conn.ExecContext(ctx, "ROLLBACK")
	c.inTx = false
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) RunStatement(ctx context.Context, sqlStmt string) error {
	_, err := c.conn.ExecContext(ctx, sqlStmt)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (*driver.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.driver.MapError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, c.driver.MapError(err)
	}

	out := &driver.Rows{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, c.driver.MapError(err)
		}
		out.Data = append(out.Data, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, c.driver.MapError(err)
	}
	return out, nil
}

func (c *connection) Dispose() error {
	if c.inTx {
		_, _ = c.conn.ExecContext(context.Background(), "ROLLBACK")
		c.inTx = false
	}
	return c.conn.Close()
}
