package migrator

import (
	"context"
	"fmt"

	"github.com/db-journey/nomad/event"
	"github.com/db-journey/nomad/migration"
	"github.com/db-journey/nomad/nomaderr"
)

// VerifyResult is the structured outcome of a strict checksum audit.
type VerifyResult struct {
	Valid             bool
	DriftCount        int
	MissingCount      int
	DriftedMigrations []migration.Version
	MissingMigrations []migration.Version
}

// Verify performs a strict checksum audit across all applied migrations.
// A legacy row (NULL stored checksum) counts as drift unless
// Config.AllowLegacyChecksum is set, per the resolved open question in
// DESIGN.md. Apart from creating the migrations table if it does not yet
// exist, Verify never mutates state.
func (m *Migrator) Verify(ctx context.Context) (VerifyResult, error) {
	m.events.Emit(event.Record{Kind: event.VerifyStart})

	conn, err := m.drv.Connect(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	defer conn.Dispose()

	if err := conn.EnsureMigrationsTable(ctx); err != nil {
		return VerifyResult{}, err
	}
	appliedRows, err := conn.FetchAppliedMigrations(ctx)
	if err != nil {
		return VerifyResult{}, err
	}

	files, err := migration.ReadDir(m.cfg.Dir)
	if err != nil {
		return VerifyResult{}, err
	}

	var result VerifyResult
	for _, row := range appliedRows {
		v := migration.Version(row.Version)
		f, ok := files.ByVersion(v)
		if !ok {
			result.MissingMigrations = append(result.MissingMigrations, v)
			continue
		}

		isLegacy := row.Checksum == ""
		if isLegacy && !m.cfg.AllowLegacyChecksum {
			result.DriftedMigrations = append(result.DriftedMigrations, v)
			continue
		}
		if !isLegacy && row.Checksum != f.Checksum {
			result.DriftedMigrations = append(result.DriftedMigrations, v)
		}
	}

	result.DriftCount = len(result.DriftedMigrations)
	result.MissingCount = len(result.MissingMigrations)
	result.Valid = result.DriftCount == 0 && result.MissingCount == 0

	m.events.Emit(event.Record{Kind: event.VerifyEnd, Drift: result.DriftCount, Missing: result.MissingCount})

	if !result.Valid {
		return result, nomaderr.Drift(fmt.Sprintf(
			"verify failed: %d drifted, %d missing", result.DriftCount, result.MissingCount))
	}
	return result, nil
}
