// Package migrator implements nomad's core orchestration: the envelope
// that ties the driver, planner, and migration model together under a
// distributed lock, with signal-safe cleanup, drift enforcement, and the
// public Up/Down/To/Redo/Status/Verify operations.
package migrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/db-journey/nomad/driver"
	"github.com/db-journey/nomad/event"
	"github.com/db-journey/nomad/hazard"
	"github.com/db-journey/nomad/migration"
	"github.com/db-journey/nomad/nomaderr"
	"github.com/db-journey/nomad/plan"

	_ "github.com/db-journey/nomad/drivers/mysql"
	_ "github.com/db-journey/nomad/drivers/postgres"
	_ "github.com/db-journey/nomad/drivers/sqlite"
)

// Migrator is the stateful handle applications obtain to run migrations.
// It owns the Driver's connection pool for its lifetime; callers should
// call Close when finished.
type Migrator struct {
	cfg     Config
	drv     driver.Driver
	logger  Logger
	events  *event.Emitter
	lockKey string
}

// New constructs a Migrator: normalizes cfg (environment substitution,
// defaults, validation), resolves the registered Driver for
// cfg.Driver/cfg.URL, and prepares (but does not yet acquire) the lock
// key.
func New(cfg Config, logger Logger, eventsOut io.Writer) (*Migrator, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, nomaderr.ParseConfig("invalid config", err)
	}

	drv, err := driver.Open(cfg.URL)
	if err != nil {
		return nil, nomaderr.Connection("opening driver", err)
	}

	var emitter *event.Emitter
	if cfg.EventsJSON && eventsOut != nil {
		emitter = event.NewEmitter(eventsOut, nil)
	} else {
		emitter = event.NewEmitter(nil, nil)
	}

	return &Migrator{
		cfg:     cfg,
		drv:     drv,
		logger:  defaultLogger(logger),
		events:  emitter,
		lockKey: driver.LockKey(cfg.URL, cfg.Schema, cfg.Table, cfg.Dir),
	}, nil
}

// Close releases pool-level resources owned by the underlying Driver.
func (m *Migrator) Close() error {
	return m.drv.Close()
}

// loadState enumerates and parses on-disk migrations and fetches applied
// rows over a fresh connection, per the envelope's steps 1-3.
func (m *Migrator) loadState(ctx context.Context) (migration.MigrationFiles, []driver.AppliedRow, error) {
	conn, err := m.drv.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Dispose()

	if err := conn.EnsureMigrationsTable(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := conn.FetchAppliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}

	files, err := migration.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, nil, err
	}

	return files, applied, nil
}

// appliedFiles resolves each AppliedRow to its on-disk MigrationFile,
// enforcing drift/missing-file policy (envelope step 4). rows should
// already be sorted; the returned MigrationFiles preserve that order.
func (m *Migrator) appliedFiles(applied []driver.AppliedRow, files migration.MigrationFiles) (migration.MigrationFiles, error) {
	var out migration.MigrationFiles
	for _, row := range applied {
		f, ok := files.ByVersion(migration.Version(row.Version))
		if !ok {
			return nil, nomaderr.MissingFile(
				fmt.Sprintf("applied version %d has no file on disk", row.Version))
		}
		if row.Checksum != "" && row.Checksum != f.Checksum {
			if !m.cfg.AllowDrift {
				return nil, nomaderr.ChecksumMismatch(
					fmt.Sprintf("version %d: stored checksum %s does not match file checksum %s",
						row.Version, row.Checksum, f.Checksum))
			}
			m.logger.Warn("migration has drifted, allowDrift is set",
				"version", row.Version, "stored_checksum", row.Checksum, "file_checksum", f.Checksum)
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *Migrator) pendingFiles(all migration.MigrationFiles, applied migration.MigrationFiles) migration.MigrationFiles {
	appliedSet := make(map[migration.Version]bool, len(applied))
	for _, f := range applied {
		appliedSet[f.Version] = true
	}
	var pending migration.MigrationFiles
	for _, f := range all.SortedAscending() {
		if !appliedSet[f.Version] {
			pending = append(pending, f)
		}
	}
	return pending
}

func (m *Migrator) policy() hazard.Policy {
	return hazard.Policy{AutoNotx: m.cfg.AutoNotx}
}

// PlanUp computes the forward plan without executing it.
func (m *Migrator) PlanUp(ctx context.Context, opts plan.Options) (plan.Plan, error) {
	opts.Policy = m.policy()
	all, applied, err := m.loadState(ctx)
	if err != nil {
		return plan.Plan{}, err
	}
	appliedFiles, err := m.appliedFiles(applied, all)
	if err != nil {
		return plan.Plan{}, err
	}
	pending := m.pendingFiles(all, appliedFiles)
	return plan.Up(pending, opts)
}

// PlanDown computes the backward plan without executing it.
func (m *Migrator) PlanDown(ctx context.Context, opts plan.Options) (plan.Plan, error) {
	opts.Policy = m.policy()
	all, applied, err := m.loadState(ctx)
	if err != nil {
		return plan.Plan{}, err
	}
	appliedFiles, err := m.appliedFiles(applied, all)
	if err != nil {
		return plan.Plan{}, err
	}
	return plan.Down(appliedFiles, opts)
}

// Up applies pending migrations in ascending order, truncated to limit
// (0 = no truncation).
func (m *Migrator) Up(ctx context.Context, limit int) error {
	return m.withLock(ctx, func(ctx context.Context, conn driver.Connection) error {
		all, applied, err := m.loadState(ctx)
		if err != nil {
			return err
		}
		appliedFiles, err := m.appliedFiles(applied, all)
		if err != nil {
			return err
		}
		pending := m.pendingFiles(all, appliedFiles)
		p, err := plan.Up(pending, plan.Options{Limit: limit, Policy: m.policy()})
		if err != nil {
			return err
		}
		return m.execute(ctx, conn, p)
	})
}

// Down rolls back applied migrations in descending order; count<=0
// defaults to 1.
func (m *Migrator) Down(ctx context.Context, count int) error {
	return m.withLock(ctx, func(ctx context.Context, conn driver.Connection) error {
		all, applied, err := m.loadState(ctx)
		if err != nil {
			return err
		}
		appliedFiles, err := m.appliedFiles(applied, all)
		if err != nil {
			return err
		}
		p, err := plan.Down(appliedFiles, plan.Options{Count: count, Policy: m.policy()})
		if err != nil {
			return err
		}
		return m.execute(ctx, conn, p)
	})
}

// To migrates forward or backward to reach target exactly.
func (m *Migrator) To(ctx context.Context, target migration.Version) error {
	return m.withLock(ctx, func(ctx context.Context, conn driver.Connection) error {
		all, applied, err := m.loadState(ctx)
		if err != nil {
			return err
		}
		appliedFiles, err := m.appliedFiles(applied, all)
		if err != nil {
			return err
		}
		p, err := plan.To(all, appliedFiles, target, plan.Options{Policy: m.policy()})
		if err != nil {
			return err
		}
		return m.execute(ctx, conn, p)
	})
}

// Redo rolls back the most recently applied migration, then re-applies
// it, as two steps under a single lock acquisition.
func (m *Migrator) Redo(ctx context.Context) error {
	return m.withLock(ctx, func(ctx context.Context, conn driver.Connection) error {
		all, applied, err := m.loadState(ctx)
		if err != nil {
			return err
		}
		appliedFiles, err := m.appliedFiles(applied, all)
		if err != nil {
			return err
		}
		if len(appliedFiles) == 0 {
			return nil
		}

		downPlan, err := plan.Down(appliedFiles, plan.Options{Count: 1, Policy: m.policy()})
		if err != nil {
			return err
		}
		if err := m.execute(ctx, conn, downPlan); err != nil {
			return err
		}

		last := downPlan.Steps[0].File
		upPlan, err := plan.Up(migration.MigrationFiles{last}, plan.Options{Policy: m.policy()})
		if err != nil {
			return err
		}
		return m.execute(ctx, conn, upPlan)
	})
}

// execute runs every step of p in order, each under the transaction
// policy decided for it by the planner.
func (m *Migrator) execute(ctx context.Context, conn driver.Connection, p plan.Plan) error {
	for _, step := range p.Steps {
		if err := m.executeStep(ctx, conn, step); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) executeStep(ctx context.Context, conn driver.Connection, step plan.PlannedMigration) error {
	direction := "down"
	if step.Up {
		direction = "up"
	}
	start := time.Now()
	m.events.Emit(event.Record{Kind: event.ApplyStart, Version: uint64(step.File.Version), Direction: direction})

	useTx := step.Transaction && m.drv.SupportsTransactionalDDL()

	runAll := func() error {
		for _, stmt := range step.Statements {
			stmtStart := time.Now()
			if err := conn.RunStatement(ctx, stmt); err != nil {
				return m.annotateSQLError(err, step.File, stmt)
			}
			m.events.Emit(event.Record{
				Kind:    event.StmtRun,
				Version: uint64(step.File.Version),
				Preview: preview(stmt),
				Ms:      time.Since(stmtStart).Milliseconds(),
			})
		}
		return nil
	}

	var err error
	if useTx {
		if err = conn.BeginTransaction(ctx); err != nil {
			return err
		}
		if err = runAll(); err != nil {
			_ = conn.RollbackTransaction(ctx)
			return err
		}
		if err = m.recordOutcome(ctx, conn, step); err != nil {
			_ = conn.RollbackTransaction(ctx)
			return err
		}
		if err = conn.CommitTransaction(ctx); err != nil {
			return err
		}
	} else {
		if err = runAll(); err != nil {
			return err
		}
		if err = m.recordOutcome(ctx, conn, step); err != nil {
			return err
		}
	}

	m.events.Emit(event.Record{
		Kind:      event.ApplyEnd,
		Version:   uint64(step.File.Version),
		Direction: direction,
		Ms:        time.Since(start).Milliseconds(),
	})
	return nil
}

func (m *Migrator) recordOutcome(ctx context.Context, conn driver.Connection, step plan.PlannedMigration) error {
	if step.Up {
		return conn.MarkMigrationApplied(ctx, driver.MarkApplied{
			Version:  uint64(step.File.Version),
			Name:     step.File.Name,
			Checksum: step.File.Checksum,
		})
	}
	return conn.MarkMigrationRolledBack(ctx, uint64(step.File.Version))
}

// annotateSQLError wraps a driver-mapped error as a SqlError annotated
// with the failing statement's source coordinates, located by finding
// stmt within the file's raw content (only Postgres, via its own
// MapError, would have a chance to carry a byte position of its own, and
// even there positions are not plumbed through the narrow
// driver.Connection contract).
func (m *Migrator) annotateSQLError(err error, f migration.MigrationFile, stmt string) error {
	nerr, ok := err.(*nomaderr.Error)
	if !ok {
		nerr = nomaderr.SQL(err.Error(), err)
	}
	line, column := migration.LineColumn(f.Content, stmt)
	return nerr.WithLocation(f.FilePath, line, column, stmt)
}

func preview(stmt string) string {
	const maxLen = 80
	trimmed := stmt
	if len(trimmed) > maxLen {
		trimmed = trimmed[:maxLen] + "..."
	}
	return trimmed
}
