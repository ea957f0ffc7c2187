package migrator

import (
	"context"
	"time"

	"github.com/db-journey/nomad/migration"
)

// VersionStatus is the per-version status record produced by Status.
type VersionStatus struct {
	Version           migration.Version
	Name              string
	Applied           bool
	AppliedAt         *time.Time
	HasDrift          bool
	IsMissing         bool
	HasLegacyChecksum bool
}

// Status reports per-version status (applied, drift, missing, legacy).
// Apart from creating the migrations table if it does not yet exist, it
// only reads, and it does not take the advisory lock.
func (m *Migrator) Status(ctx context.Context) ([]VersionStatus, error) {
	conn, err := m.drv.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Dispose()

	if err := conn.EnsureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	appliedRows, err := conn.FetchAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	files, err := migration.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, err
	}

	appliedByVersion := make(map[migration.Version]struct {
		checksum  string
		appliedAt time.Time
	}, len(appliedRows))
	for _, row := range appliedRows {
		appliedByVersion[migration.Version(row.Version)] = struct {
			checksum  string
			appliedAt time.Time
		}{checksum: row.Checksum, appliedAt: row.AppliedAt}
	}

	seen := make(map[migration.Version]bool)
	var out []VersionStatus

	for _, f := range files.SortedAscending() {
		seen[f.Version] = true
		a, isApplied := appliedByVersion[f.Version]
		s := VersionStatus{Version: f.Version, Name: f.Name, Applied: isApplied}
		if isApplied {
			t := a.appliedAt
			s.AppliedAt = &t
			s.HasLegacyChecksum = a.checksum == ""
			if !s.HasLegacyChecksum && a.checksum != f.Checksum {
				s.HasDrift = true
			}
		}
		out = append(out, s)
	}

	// Applied rows whose file is absent from disk: missing.
	for v, a := range appliedByVersion {
		if seen[v] {
			continue
		}
		t := a.appliedAt
		out = append(out, VersionStatus{
			Version:           v,
			Applied:           true,
			AppliedAt:         &t,
			IsMissing:         true,
			HasLegacyChecksum: a.checksum == "",
		})
	}

	return out, nil
}
