package migrator

import (
	"context"
	"sync"
	"time"

	"github.com/db-journey/nomad/driver"
)

// fakeDriver is an in-memory driver.Driver used to exercise the migrator
// envelope without a real database. It registers itself under the
// "fake" scheme so migrator.New can resolve it via the normal registry
// path exactly as a real dialect would.
type fakeDriver struct {
	mu              sync.Mutex
	applied         map[uint64]driver.AppliedRow
	locks           map[string]bool
	supportsTxDDL   bool
	failStatement   string // if non-empty, RunStatement with this exact text fails
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		applied:       make(map[uint64]driver.AppliedRow),
		locks:         make(map[string]bool),
		supportsTxDDL: true,
	}
}

func init() {
	driver.Register("fake", func(url string) (driver.Driver, error) {
		return sharedFakeDriverForURL(url), nil
	})
}

var fakeDriverRegistry = struct {
	mu sync.Mutex
	m  map[string]*fakeDriver
}{m: make(map[string]*fakeDriver)}

// sharedFakeDriverForURL returns the same *fakeDriver for the same URL
// across calls within a test process, so two Migrator instances opened
// against the same fake URL share state (needed for lock-contention
// tests).
func sharedFakeDriverForURL(url string) *fakeDriver {
	fakeDriverRegistry.mu.Lock()
	defer fakeDriverRegistry.mu.Unlock()
	if d, ok := fakeDriverRegistry.m[url]; ok {
		return d
	}
	d := newFakeDriver()
	fakeDriverRegistry.m[url] = d
	return d
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) QuoteIdent(name string) string { return `"` + name + `"` }

func (d *fakeDriver) NowExpression() string { return "NOW()" }

func (d *fakeDriver) SupportsTransactionalDDL() bool { return d.supportsTxDDL }

func (d *fakeDriver) ProbeConnection(ctx context.Context) error { return nil }

func (d *fakeDriver) MapError(err error) error { return err }

func (d *fakeDriver) Connect(ctx context.Context) (driver.Connection, error) {
	return &fakeConnection{d: d}, nil
}

type fakeConnection struct {
	d  *fakeDriver
	tx bool
}

func (c *fakeConnection) EnsureMigrationsTable(ctx context.Context) error { return nil }

func (c *fakeConnection) FetchAppliedMigrations(ctx context.Context) ([]driver.AppliedRow, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	var out []driver.AppliedRow
	for _, r := range c.d.applied {
		if r.RolledBackAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *fakeConnection) MarkMigrationApplied(ctx context.Context, m driver.MarkApplied) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.applied[m.Version] = driver.AppliedRow{
		Version: m.Version, Name: m.Name, Checksum: m.Checksum, AppliedAt: time.Now(),
	}
	return nil
}

func (c *fakeConnection) MarkMigrationRolledBack(ctx context.Context, version uint64) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	r, ok := c.d.applied[version]
	if !ok {
		return nil
	}
	t := time.Now()
	r.RolledBackAt = &t
	c.d.applied[version] = r
	return nil
}

func (c *fakeConnection) AcquireLock(ctx context.Context, hexKey string, timeout time.Duration) (bool, error) {
	return driver.PollTryLock(ctx, timeout, func(ctx context.Context) (bool, error) {
		c.d.mu.Lock()
		defer c.d.mu.Unlock()
		if c.d.locks[hexKey] {
			return false, nil
		}
		c.d.locks[hexKey] = true
		return true, nil
	})
}

func (c *fakeConnection) ReleaseLock(ctx context.Context, hexKey string) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	delete(c.d.locks, hexKey)
	return nil
}

func (c *fakeConnection) BeginTransaction(ctx context.Context) error { c.tx = true; return nil }
func (c *fakeConnection) CommitTransaction(ctx context.Context) error { c.tx = false; return nil }
func (c *fakeConnection) RollbackTransaction(ctx context.Context) error { c.tx = false; return nil }

func (c *fakeConnection) RunStatement(ctx context.Context, sql string) error {
	if c.d.failStatement != "" && sql == c.d.failStatement {
		return errFakeStatement
	}
	return nil
}

func (c *fakeConnection) Query(ctx context.Context, sql string, args ...any) (*driver.Rows, error) {
	return &driver.Rows{}, nil
}

func (c *fakeConnection) Dispose() error { return nil }

var errFakeStatement = fakeErr("fake statement failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
