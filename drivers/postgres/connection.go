package postgres

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
	tx     *sql.Tx
}

func (c *connection) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.tx != nil {
		return c.tx.ExecContext(ctx, query, args...)
	}
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *connection) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if c.tx != nil {
		return c.tx.QueryRowContext(ctx, query, args...)
	}
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *connection) EnsureMigrationsTable(ctx context.Context) error {
	table := c.driver.schema + "." + c.driver.table
	_, err := c.conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+table+` (
	version      BIGINT PRIMARY KEY,
	name         TEXT NOT NULL,
	checksum     TEXT,
	applied_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	rolled_back_at TIMESTAMPTZ
)`)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) FetchAppliedMigrations(ctx context.Context) ([]driver.AppliedRow, error) {
	table := c.driver.schema + "." + c.driver.table
	rows, err := c.conn.QueryContext(ctx, `
SELECT version, name, COALESCE(checksum, ''), applied_at, rolled_back_at
FROM `+table+`
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
	table := c.driver.schema + "." + c.driver.table
	_, err := c.exec(ctx, `
INSERT INTO `+table+` (version, name, checksum, applied_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (version) DO UPDATE SET
	name = EXCLUDED.name,
	checksum = EXCLUDED.checksum,
	applied_at = NOW(),
	rolled_back_at = NULL`, m.Version, m.Name, m.Checksum)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) MarkMigrationRolledBack(ctx context.Context, version uint64) error {
	table := c.driver.schema + "." + c.driver.table
	_, err := c.exec(ctx, `UPDATE `+table+` SET rolled_back_at = NOW() WHERE version = $1`, version)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) AcquireLock(ctx context.Context, hexKey string, timeout time.Duration) (bool, error) {
	id, err := advisoryLockID(hexKey)
	if err != nil {
		return false, err
	}
	return driver.PollTryLock(ctx, timeout, func(ctx context.Context) (bool, error) {
		var acquired bool
		if err := c.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
			return false, c.driver.MapError(err)
		}
		return acquired, nil
	})
}

func (c *connection) ReleaseLock(ctx context.Context, hexKey string) error {
	id, err := advisoryLockID(hexKey)
	if err != nil {
		return err
	}
	var released bool
	if err := c.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", id).Scan(&released); err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) BeginTransaction(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("postgres: transaction already open")
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return c.driver.MapError(err)
	}
	c.tx = tx
	return nil
}

func (c *connection) CommitTransaction(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("postgres: no transaction open")
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) RollbackTransaction(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) RunStatement(ctx context.Context, sqlStmt string) error {
	_, err := c.exec(ctx, sqlStmt)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (*driver.Rows, error) {
	var rows *sql.Rows
	var err error
	if c.tx != nil {
		rows, err = c.tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = c.conn.QueryContext(ctx, query, args...)
	}
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
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	return c.conn.Close()
}
