package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/db-journey/nomad/checksum"
	"github.com/db-journey/nomad/nomaderr"
)

var filenameRe = regexp.MustCompile(`^([0-9]+)_(.+)\.sql$`)

// ReadDir enumerates, reads, and parses every migration file in dir.
// Files without a .sql extension are skipped. It returns a
// ParseConfigError for a malformed .sql filename, a duplicate version, or
// a file that fails directive parsing.
func ReadDir(dir string) (MigrationFiles, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nomaderr.ParseConfig(fmt.Sprintf("reading migrations directory %q", dir), err)
	}

	var files MigrationFiles
	seen := make(map[Version]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := filenameRe.FindStringSubmatch(entry.Name())
		if m == nil {
			if filepath.Ext(entry.Name()) == ".sql" {
				return nil, nomaderr.ParseConfig(fmt.Sprintf("malformed migration filename %q", entry.Name()), nil)
			}
			continue
		}

		v, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return nil, nomaderr.ParseConfig(fmt.Sprintf("invalid version in filename %q", entry.Name()), err)
		}
		version := Version(v)
		if prior, dup := seen[version]; dup {
			return nil, nomaderr.ParseConfig(
				fmt.Sprintf("duplicate migration version %d: %q and %q", version, prior, entry.Name()), nil)
		}
		seen[version] = entry.Name()

		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, nomaderr.ParseConfig(fmt.Sprintf("reading migration file %q", path), err)
		}

		file, err := Load(version, m[2], path, string(content))
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	return files.SortedAscending(), nil
}

// Load builds a MigrationFile from already-read content, computing its
// checksum and parsing its directives.
func Load(version Version, name, path, content string) (MigrationFile, error) {
	parsed, err := Parse(content)
	if err != nil {
		return MigrationFile{}, fmt.Errorf("%s: %w", path, err)
	}
	return MigrationFile{
		Version:  version,
		Name:     name,
		FilePath: path,
		Content:  content,
		Checksum: checksum.Calculate(content),
		Parsed:   parsed,
	}, nil
}
