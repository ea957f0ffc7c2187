// Package plan computes ordered, decorated migration plans: forward
// (up), backward (down), and mixed-direction (to a target version).
package plan

import (
	"fmt"

	"github.com/db-journey/nomad/hazard"
	"github.com/db-journey/nomad/migration"
	"github.com/db-journey/nomad/nomaderr"
)

// PlannedMigration is one step of a plan: a migration file, the
// direction to execute it in, its transaction decision, and the hazards
// that informed that decision.
type PlannedMigration struct {
	File        migration.MigrationFile
	Up          bool
	Transaction bool
	Reason      string
	Statements  []string
	Hazards     []hazard.Hazard
	Warning     string
}

// Filter narrows a planUp candidate list by tag.
type Filter struct {
	Tags []string
}

// Options configures a planning call. Fields not relevant to the call
// being made (e.g. TargetVersion for planUp) are ignored.
type Options struct {
	Limit            int
	Count            int
	TargetVersion    migration.Version
	DryRun           bool
	Filter           Filter
	IncludeAncestors bool
	Policy           hazard.Policy
}

// Summary aggregates counts over a Plan.
type Summary struct {
	Total            int
	Transactional    int
	NonTransactional int
	HazardCount      int
}

// Plan is an ordered set of decorated migration steps plus their summary
// and any non-fatal warnings collected while building it.
type Plan struct {
	Steps    []PlannedMigration
	Summary  Summary
	Warnings []string
}

func decorate(f migration.MigrationFile, up bool, policy hazard.Policy) (PlannedMigration, error) {
	stmts := f.SectionStatements(up)
	hazards := f.SectionHazards(up)
	hasNotx := f.SectionNotx(up)

	res, err := hazard.Validate(hazards, hasNotx, policy)
	if err != nil {
		return PlannedMigration{}, nomaderr.ParseConfig(
			fmt.Sprintf("migration %d (%s): %s", f.Version, f.Name, err), err)
	}

	return PlannedMigration{
		File:        f,
		Up:          up,
		Transaction: !res.SkipTransaction,
		Reason:      res.Reason,
		Statements:  stmts,
		Hazards:     hazards,
		Warning:     res.Warning,
	}, nil
}

func summarize(steps []PlannedMigration) Summary {
	s := Summary{Total: len(steps)}
	for _, step := range steps {
		if step.Transaction {
			s.Transactional++
		} else {
			s.NonTransactional++
		}
		s.HazardCount += len(step.Hazards)
	}
	return s
}

func build(files migration.MigrationFiles, up bool, opts Options) (Plan, error) {
	var warnings []string
	var steps []PlannedMigration
	for _, f := range files {
		step, err := decorate(f, up, opts.Policy)
		if err != nil {
			return Plan{}, err
		}
		if step.Warning != "" {
			warnings = append(warnings, fmt.Sprintf("%d_%s: %s", f.Version, f.Name, step.Warning))
		}
		steps = append(steps, step)
	}
	return Plan{Steps: steps, Summary: summarize(steps), Warnings: warnings}, nil
}

// Up computes the forward plan over pending (on-disk, unapplied)
// migrations, ascending by version, truncated to opts.Limit (0 = no
// truncation) and narrowed by opts.Filter.Tags if set.
func Up(pending migration.MigrationFiles, opts Options) (Plan, error) {
	ordered := pending.SortedAscending()
	selected, filterWarnings := applyTagFilterUp(ordered, opts)
	if opts.Limit > 0 && len(selected) > opts.Limit {
		selected = selected[:opts.Limit]
	}
	p, err := build(selected, true, opts)
	if err != nil {
		return Plan{}, err
	}
	p.Warnings = append(filterWarnings, p.Warnings...)
	return p, nil
}

// applyTagFilterUp narrows ordered to the migrations matching
// opts.Filter.Tags. With IncludeAncestors, every migration up to and
// including each matched item is re-included, so an untagged migration
// sandwiched between two matches is pulled back in too. Without it, only
// matches survive, and every earlier-versioned migration dropped ahead
// of the last match is reported as a warning rather than silently
// discarded.
func applyTagFilterUp(ordered migration.MigrationFiles, opts Options) (migration.MigrationFiles, []string) {
	if len(opts.Filter.Tags) == 0 {
		return ordered, nil
	}

	matched := make([]bool, len(ordered))
	lastMatch := -1
	for i, f := range ordered {
		if f.HasTag(opts.Filter.Tags) {
			matched[i] = true
			lastMatch = i
		}
	}
	if lastMatch < 0 {
		return nil, nil
	}

	if opts.IncludeAncestors {
		include := make([]bool, len(ordered))
		for i, m := range matched {
			if !m {
				continue
			}
			for j := 0; j <= i; j++ {
				include[j] = true
			}
		}
		var out migration.MigrationFiles
		for i, inc := range include {
			if inc {
				out = append(out, ordered[i])
			}
		}
		return out, nil
	}

	var out migration.MigrationFiles
	var warnings []string
	for i, f := range ordered {
		if matched[i] {
			out = append(out, f)
			continue
		}
		if i < lastMatch {
			warnings = append(warnings, fmt.Sprintf(
				"%d_%s: dropped by tag filter ahead of a later match (includeAncestors=false)", f.Version, f.Name))
		}
	}
	return out, warnings
}

// Down computes the backward plan over applied migrations, descending by
// version, truncated to opts.Count (0 defaults to 1). When opts.Filter.Tags
// is set, it consumes from the head only while each migration carries one
// of the filter tags, stopping at the first non-matching head rather than
// skipping over untagged migrations.
func Down(applied migration.MigrationFiles, opts Options) (Plan, error) {
	ordered := applied.SortedDescending()
	count := opts.Count
	if count <= 0 {
		count = 1
	}

	var selected migration.MigrationFiles
	for _, f := range ordered {
		if len(selected) >= count {
			break
		}
		if len(opts.Filter.Tags) > 0 && !f.HasTag(opts.Filter.Tags) {
			break
		}
		selected = append(selected, f)
	}

	return build(selected, false, opts)
}

// To computes a mixed-direction plan to reach target: forward over
// pending versions <= target when target is above the highest applied
// version, backward over applied versions > target when target is below
// it, and an empty plan when target equals the highest applied version.
func To(all, applied migration.MigrationFiles, target migration.Version, opts Options) (Plan, error) {
	var maxApplied migration.Version
	appliedVersions := make(map[migration.Version]bool, len(applied))
	for _, f := range applied {
		appliedVersions[f.Version] = true
		if f.Version > maxApplied {
			maxApplied = f.Version
		}
	}

	switch {
	case len(applied) == 0 && target == 0:
		return Plan{}, nil
	case target > maxApplied:
		var pending migration.MigrationFiles
		for _, f := range all.SortedAscending() {
			if !appliedVersions[f.Version] && f.Version <= target {
				pending = append(pending, f)
			}
		}
		return build(pending, true, opts)
	case target < maxApplied:
		var toRollback migration.MigrationFiles
		for _, f := range applied.SortedDescending() {
			if f.Version > target {
				toRollback = append(toRollback, f)
			}
		}
		return build(toRollback, false, opts)
	default:
		return Plan{}, nil
	}
}
