// Package migration owns the MigrationFile/ParsedMigration data model,
// the directive parser, the top-level statement splitter, and on-disk
// directory enumeration.
package migration

import (
	"sort"

	"github.com/db-journey/nomad/hazard"
)

// Version is the 64-bit migration version derived from a filename's
// leading numeric timestamp.
type Version uint64

// Versions is an ascending-sortable list of Version.
type Versions []Version

func (v Versions) Len() int           { return len(v) }
func (v Versions) Less(i, j int) bool { return v[i] < v[j] }
func (v Versions) Swap(i, j int)      { v[i], v[j] = v[j], v[i] }

// Contains reports whether version is present in v.
func (v Versions) Contains(version Version) bool {
	for _, existing := range v {
		if existing == version {
			return true
		}
	}
	return false
}

// Max returns the highest version in v, or 0 if v is empty.
func (v Versions) Max() Version {
	var max Version
	for _, existing := range v {
		if existing > max {
			max = existing
		}
	}
	return max
}

// Section is one direction (Up or Down) of a parsed migration.
type Section struct {
	Statements []string
	Notx       bool
}

// ParsedMigration is a migration file split into its Up and Down
// sections, plus file-level metadata recognized from directives.
type ParsedMigration struct {
	Up   Section
	Down Section

	Tags []string

	// NoTransaction is set when a "-- +nomad notx" directive appears
	// before any Up/Down switch, applying to both sections. It is an
	// alias in the sense described by the data model: either it or a
	// section's own Notx disables the transaction for that section.
	NoTransaction bool
}

// MigrationFile is one file on disk together with its parsed content and
// checksum.
type MigrationFile struct {
	Version  Version
	Name     string
	FilePath string
	Content  string
	Checksum string
	Parsed   *ParsedMigration
}

// MigrationFiles is a version-sortable list of MigrationFile.
type MigrationFiles []MigrationFile

func (m MigrationFiles) Len() int           { return len(m) }
func (m MigrationFiles) Less(i, j int) bool { return m[i].Version < m[j].Version }
func (m MigrationFiles) Swap(i, j int)      { m[i], m[j] = m[j], m[i] }

// SortedAscending returns a copy of m sorted ascending by version.
func (m MigrationFiles) SortedAscending() MigrationFiles {
	cp := append(MigrationFiles(nil), m...)
	sort.Sort(cp)
	return cp
}

// SortedDescending returns a copy of m sorted descending by version.
func (m MigrationFiles) SortedDescending() MigrationFiles {
	cp := append(MigrationFiles(nil), m...)
	sort.Sort(sort.Reverse(cp))
	return cp
}

// ByVersion looks up a file by version, returning ok=false if absent.
func (m MigrationFiles) ByVersion(v Version) (MigrationFile, bool) {
	for _, f := range m {
		if f.Version == v {
			return f, true
		}
	}
	return MigrationFile{}, false
}

// HasTag reports whether the migration carries any of the given tags.
func (f MigrationFile) HasTag(tags []string) bool {
	if f.Parsed == nil {
		return false
	}
	for _, want := range tags {
		for _, have := range f.Parsed.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// SectionNotx reports whether the given section of f should run without a
// transaction because of a notx directive, either the section's own or
// the file-level NoTransaction one.
func (f MigrationFile) SectionNotx(up bool) bool {
	if f.Parsed == nil {
		return false
	}
	if up {
		return f.Parsed.Up.Notx || f.Parsed.NoTransaction
	}
	return f.Parsed.Down.Notx || f.Parsed.NoTransaction
}

// SectionStatements returns the statement list for the given direction.
func (f MigrationFile) SectionStatements(up bool) []string {
	if f.Parsed == nil {
		return nil
	}
	if up {
		return f.Parsed.Up.Statements
	}
	return f.Parsed.Down.Statements
}

// SectionHazards runs the hazard detector over the given section's
// joined statements.
func (f MigrationFile) SectionHazards(up bool) []hazard.Hazard {
	stmts := f.SectionStatements(up)
	if len(stmts) == 0 {
		return nil
	}
	joined := ""
	for i, s := range stmts {
		if i > 0 {
			joined += "\n"
		}
		joined += s
	}
	return hazard.Detect(joined)
}
