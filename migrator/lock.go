package migrator

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/db-journey/nomad/driver"
	"github.com/db-journey/nomad/event"
	"github.com/db-journey/nomad/nomaderr"
)

// withLock opens an execution connection, acquires the advisory lock,
// installs SIGINT/SIGTERM handling for the duration of the call, invokes
// fn, and guarantees lock release + handler deregistration + connection
// disposal on every exit path, including a SIGINT/SIGTERM received while
// the lock is held.
func (m *Migrator) withLock(ctx context.Context, fn func(ctx context.Context, conn driver.Connection) error) error {
	conn, err := m.drv.Connect(ctx)
	if err != nil {
		return err
	}

	ok, err := conn.AcquireLock(ctx, m.lockKey, m.cfg.LockTimeout)
	if err != nil {
		_ = conn.Dispose()
		return err
	}
	if !ok {
		_ = conn.Dispose()
		return nomaderr.LockTimeout("could not acquire migration lock within " + m.cfg.LockTimeout.String())
	}
	m.events.Emit(event.Record{Kind: event.LockAcquired})

	cleanup := newScopedCleanup(func() {
		_ = conn.ReleaseLock(context.Background(), m.lockKey)
		m.events.Emit(event.Record{Kind: event.LockReleased})
		_ = conn.Dispose()
	})
	defer cleanup.run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() { done <- fn(ctx, conn) }()

	select {
	case err := <-done:
		return err
	case sig := <-sigCh:
		cleanup.run()
		signal.Stop(sigCh)
		p, findErr := os.FindProcess(os.Getpid())
		if findErr == nil {
			_ = p.Signal(sig)
		}
		return <-done
	}
}

// scopedCleanup runs fn exactly once, tolerating any number of calls to
// run from either the normal-completion path or the signal path.
type scopedCleanup struct {
	once sync.Once
	fn   func()
}

func newScopedCleanup(fn func()) *scopedCleanup {
	return &scopedCleanup{fn: fn}
}

func (c *scopedCleanup) run() {
	c.once.Do(c.fn)
}
