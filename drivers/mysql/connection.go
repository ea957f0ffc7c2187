package mysql

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

func (c *connection) EnsureMigrationsTable(ctx context.Context) error {
	_, err := c.conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+c.driver.table+` (
	version        BIGINT PRIMARY KEY,
	name           VARCHAR(255) NOT NULL,
	checksum       CHAR(64),
	applied_at     DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	rolled_back_at DATETIME(3) NULL
) ENGINE=InnoDB`)
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
VALUES (?, ?, ?, CURRENT_TIMESTAMP(3))
ON DUPLICATE KEY UPDATE
	name = VALUES(name),
	checksum = VALUES(checksum),
	applied_at = CURRENT_TIMESTAMP(3),
	rolled_back_at = NULL`, m.Version, m.Name, m.Checksum)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) MarkMigrationRolledBack(ctx context.Context, version uint64) error {
	_, err := c.exec(ctx, `UPDATE `+c.driver.table+` SET rolled_back_at = CURRENT_TIMESTAMP(3) WHERE version = ?`, version)
	if err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

// AcquireLock uses GET_LOCK(name, timeout), whose timeout argument is
// whole seconds, rounded up so a sub-second caller timeout still blocks
// at least once rather than never attempting the wait.
func (c *connection) AcquireLock(ctx context.Context, hexKey string, timeout time.Duration) (bool, error) {
	seconds := int64(timeout / time.Second)
	if timeout%time.Second != 0 {
		seconds++
	}
	if timeout <= 0 {
		seconds = 0
	}

	var acquired sql.NullInt64
	if err := c.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", hexKey, seconds).Scan(&acquired); err != nil {
		return false, c.driver.MapError(err)
	}
	// GET_LOCK returns 1 on success, 0 on timeout, NULL on error.
	if !acquired.Valid {
		return false, c.driver.MapError(errors.New("mysql: GET_LOCK returned NULL"))
	}
	return acquired.Int64 == 1, nil
}

func (c *connection) ReleaseLock(ctx context.Context, hexKey string) error {
	var released sql.NullInt64
	if err := c.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", hexKey).Scan(&released); err != nil {
		return c.driver.MapError(err)
	}
	return nil
}

func (c *connection) BeginTransaction(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("mysql: transaction already open")
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
		return errors.New("mysql: no transaction open")
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
