package migrator

import (
	"fmt"
	"os"
	"time"
)

// Config is the external contract consumed from a caller's config loader
// (file + environment + flags). Nomad performs `${VAR}`/`$VAR`
// environment substitution over its string fields prior to validation,
// since that substitution is part of this module's contract even though
// the surrounding loader is external.
type Config struct {
	Driver string // "postgres", "mysql", or "sqlite"
	URL    string
	Dir    string

	Table  string // default "nomad_migrations"
	Schema string // postgres default "public"; omitted for sqlite

	AllowDrift bool
	AutoNotx   bool

	LockTimeout time.Duration // default 30s

	EventsJSON bool

	// AllowLegacyChecksum relaxes verify() so a legacy row (NULL stored
	// checksum) is not treated as drift. Default false: legacy rows fail
	// verification, per the resolved open question in DESIGN.md.
	AllowLegacyChecksum bool
}

// expandEnv applies os.Expand's `${VAR}`/`$VAR` substitution to every
// string field of c, returning a new Config.
func expandEnv(c Config) Config {
	c.Driver = os.Expand(c.Driver, os.Getenv)
	c.URL = os.Expand(c.URL, os.Getenv)
	c.Dir = os.Expand(c.Dir, os.Getenv)
	c.Table = os.Expand(c.Table, os.Getenv)
	c.Schema = os.Expand(c.Schema, os.Getenv)
	return c
}

// withDefaults fills in zero-valued optional fields.
func withDefaults(c Config) Config {
	if c.Table == "" {
		c.Table = "nomad_migrations"
	}
	if c.Schema == "" && c.Driver == "postgres" {
		c.Schema = "public"
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	return c
}

// Validate checks c after environment expansion and default filling.
func (c Config) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("migrator: unsupported driver %q", c.Driver)
	}
	if c.URL == "" {
		return fmt.Errorf("migrator: url is required")
	}
	if c.Dir == "" {
		return fmt.Errorf("migrator: dir is required")
	}
	return nil
}

// normalize applies environment substitution, default-filling, and
// validation in the order the external contract specifies.
func normalize(c Config) (Config, error) {
	c = expandEnv(c)
	c = withDefaults(c)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
