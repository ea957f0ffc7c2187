package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db-journey/nomad/hazard"
	"github.com/db-journey/nomad/migration"
)

func mustFile(t *testing.T, version migration.Version, name, content string) migration.MigrationFile {
	t.Helper()
	f, err := migration.Load(version, name, name+".sql", content)
	require.NoError(t, err)
	return f
}

func TestUpPlanIsAscendingPrefix(t *testing.T) {
	files := migration.MigrationFiles{
		mustFile(t, 3, "c", "-- +nomad Up\nSELECT 3;\n"),
		mustFile(t, 1, "a", "-- +nomad Up\nSELECT 1;\n"),
		mustFile(t, 2, "b", "-- +nomad Up\nSELECT 2;\n"),
	}
	p, err := Up(files, Options{Limit: 2})
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, migration.Version(1), p.Steps[0].File.Version)
	assert.Equal(t, migration.Version(2), p.Steps[1].File.Version)
}

func TestUpPlanNoLimitTakesAll(t *testing.T) {
	files := migration.MigrationFiles{
		mustFile(t, 1, "a", "-- +nomad Up\nSELECT 1;\n"),
		mustFile(t, 2, "b", "-- +nomad Up\nSELECT 2;\n"),
	}
	p, err := Up(files, Options{})
	require.NoError(t, err)
	assert.Len(t, p.Steps, 2)
}

func TestDownPlanIsDescendingDefaultOne(t *testing.T) {
	files := migration.MigrationFiles{
		mustFile(t, 1, "a", "-- +nomad Up\nSELECT 1;\n-- +nomad Down\nSELECT -1;\n"),
		mustFile(t, 2, "b", "-- +nomad Up\nSELECT 2;\n-- +nomad Down\nSELECT -2;\n"),
	}
	p, err := Down(files, Options{})
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, migration.Version(2), p.Steps[0].File.Version)
	assert.False(t, p.Steps[0].Up)
}

func TestDownPlanTagFilterStopsAtFirstNonMatchingHead(t *testing.T) {
	tagged := func(v migration.Version, tag string) migration.MigrationFile {
		return mustFile(t, v, "m", "-- +nomad tags: "+tag+"\n-- +nomad Up\nSELECT 1;\n-- +nomad Down\nSELECT 1;\n")
	}
	files := migration.MigrationFiles{
		tagged(1, "keep"),
		tagged(2, "other"),
		tagged(3, "keep"),
	}
	p, err := Down(files, Options{Count: 3, Filter: Filter{Tags: []string{"keep"}}})
	require.NoError(t, err)
	// version 3 matches, but version 2 does not, so we must stop there
	// even though version 1 would also match.
	require.Len(t, p.Steps, 1)
	assert.Equal(t, migration.Version(3), p.Steps[0].File.Version)
}

func TestUpTagFilterWithoutAncestorsKeepsOnlyMatchesAndWarns(t *testing.T) {
	tagged := func(v migration.Version, tag string) migration.MigrationFile {
		if tag == "" {
			return mustFile(t, v, "m", "-- +nomad Up\nSELECT 1;\n")
		}
		return mustFile(t, v, "m", "-- +nomad tags: "+tag+"\n-- +nomad Up\nSELECT 1;\n")
	}
	files := migration.MigrationFiles{
		tagged(1, ""),
		tagged(2, "keep"),
		tagged(3, ""),
		tagged(4, "keep"),
	}
	p, err := Up(files, Options{Filter: Filter{Tags: []string{"keep"}}})
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, migration.Version(2), p.Steps[0].File.Version)
	assert.Equal(t, migration.Version(4), p.Steps[1].File.Version)
	// Both untagged migrations ahead of the last match (1 and 3) must be
	// reported as dropped, not silently discarded.
	require.Len(t, p.Warnings, 2)
	assert.Contains(t, p.Warnings[0], "1_m")
	assert.Contains(t, p.Warnings[1], "3_m")
}

func TestUpTagFilterWithAncestorsReincludesEveryGap(t *testing.T) {
	tagged := func(v migration.Version, tag string) migration.MigrationFile {
		if tag == "" {
			return mustFile(t, v, "m", "-- +nomad Up\nSELECT 1;\n")
		}
		return mustFile(t, v, "m", "-- +nomad tags: "+tag+"\n-- +nomad Up\nSELECT 1;\n")
	}
	files := migration.MigrationFiles{
		tagged(1, ""),
		tagged(2, "keep"),
		tagged(3, ""),
		tagged(4, "keep"),
	}
	p, err := Up(files, Options{Filter: Filter{Tags: []string{"keep"}}, IncludeAncestors: true})
	require.NoError(t, err)
	require.Len(t, p.Steps, 4)
	assert.Equal(t, migration.Version(1), p.Steps[0].File.Version)
	assert.Equal(t, migration.Version(2), p.Steps[1].File.Version)
	assert.Equal(t, migration.Version(3), p.Steps[2].File.Version)
	assert.Equal(t, migration.Version(4), p.Steps[3].File.Version)
	assert.Empty(t, p.Warnings)
}

func TestUpTagFilterNoMatchYieldsEmptyPlan(t *testing.T) {
	files := migration.MigrationFiles{
		mustFile(t, 1, "a", "-- +nomad Up\nSELECT 1;\n"),
	}
	p, err := Up(files, Options{Filter: Filter{Tags: []string{"missing"}}})
	require.NoError(t, err)
	assert.Empty(t, p.Steps)
	assert.Empty(t, p.Warnings)
}

func TestToForwardPlan(t *testing.T) {
	all := migration.MigrationFiles{
		mustFile(t, 1, "a", "-- +nomad Up\nSELECT 1;\n"),
		mustFile(t, 2, "b", "-- +nomad Up\nSELECT 2;\n"),
		mustFile(t, 3, "c", "-- +nomad Up\nSELECT 3;\n"),
	}
	p, err := To(all, nil, 2, Options{})
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, migration.Version(1), p.Steps[0].File.Version)
	assert.Equal(t, migration.Version(2), p.Steps[1].File.Version)
	assert.True(t, p.Steps[0].Up)
}

func TestToBackwardPlan(t *testing.T) {
	all := migration.MigrationFiles{
		mustFile(t, 1, "a", "-- +nomad Up\nSELECT 1;\n-- +nomad Down\nSELECT -1;\n"),
		mustFile(t, 2, "b", "-- +nomad Up\nSELECT 2;\n-- +nomad Down\nSELECT -2;\n"),
		mustFile(t, 3, "c", "-- +nomad Up\nSELECT 3;\n-- +nomad Down\nSELECT -3;\n"),
	}
	applied := migration.MigrationFiles{all[0], all[1], all[2]}
	p, err := To(all, applied, 1, Options{})
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, migration.Version(3), p.Steps[0].File.Version)
	assert.Equal(t, migration.Version(2), p.Steps[1].File.Version)
	assert.False(t, p.Steps[0].Up)
}

func TestToEqualIsEmpty(t *testing.T) {
	all := migration.MigrationFiles{mustFile(t, 1, "a", "-- +nomad Up\nSELECT 1;\n")}
	applied := migration.MigrationFiles{all[0]}
	p, err := To(all, applied, 1, Options{})
	require.NoError(t, err)
	assert.Empty(t, p.Steps)
}

func TestStrictHazardFailsPlanning(t *testing.T) {
	files := migration.MigrationFiles{
		mustFile(t, 1, "a", "-- +nomad Up\nCREATE INDEX CONCURRENTLY idx ON t(id);\n"),
	}
	_, err := Up(files, Options{})
	require.Error(t, err)
}

func TestAutoNotxPlans(t *testing.T) {
	files := migration.MigrationFiles{
		mustFile(t, 1, "a", "-- +nomad Up\nCREATE INDEX CONCURRENTLY idx ON t(id);\n"),
	}
	p, err := Up(files, Options{Policy: hazard.Policy{AutoNotx: true}})
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.False(t, p.Steps[0].Transaction)
	assert.Equal(t, 1, p.Summary.NonTransactional)
}
