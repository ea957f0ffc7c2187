package driver

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Factory constructs a Driver from a connection URL.
type Factory func(rawURL string) (Driver, error)

var (
	driversMu sync.Mutex
	drivers   = make(map[string]Factory)
)

// Register associates scheme (e.g. "postgres", "mysql", "sqlite3") with a
// Factory. Drivers call this from an init() in their own package so that
// they register themselves on import. Register panics on a duplicate
// scheme, since that indicates two drivers compiled into the same binary
// for the same dialect.
func Register(scheme string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if f == nil {
		panic("driver: Register called with nil factory for " + scheme)
	}
	if _, dup := drivers[scheme]; dup {
		panic("driver: Register called twice for scheme " + scheme)
	}
	drivers[scheme] = f
}

// registeredDrivers returns a sorted list of the names of the registered
// drivers, used in error messages.
func registeredDrivers() []string {
	driversMu.Lock()
	defer driversMu.Unlock()
	var list []string
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

var schemeRe = regexp.MustCompile(`^([\w+.-]+)://`)

// getScheme extracts the scheme from a migration URL, e.g.
// "postgres://user@host/db" -> "postgres". It returns "" for a malformed
// or schemeless URL rather than erroring, so callers can produce their own
// contextual error message.
func getScheme(url string) string {
	m := schemeRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// Open resolves rawURL's scheme against the registry and constructs the
// corresponding Driver.
func Open(rawURL string) (Driver, error) {
	scheme := getScheme(rawURL)
	if scheme == "" {
		return nil, fmt.Errorf("driver: could not extract scheme from url %q", rawURL)
	}

	driversMu.Lock()
	f, ok := drivers[scheme]
	driversMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("driver: no driver registered for scheme %q (have: %v)", scheme, registeredDrivers())
	}
	return f(rawURL)
}
