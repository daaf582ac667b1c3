package stream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Driver turns a user-facing locator for one platform (channel name, page
// URL) into a candidate variant-manifest URL the resolver can fetch.
type Driver interface {
	// Name returns the driver identifier (e.g., "kick").
	Name() string

	// DefaultDomain returns the base URL for this platform.
	DefaultDomain() string

	// FileExtension returns the output container extension without the dot.
	FileExtension() string

	// CandidateURL derives the manifest URL for locator. Locators that are
	// already manifest URLs are returned untouched.
	CandidateURL(ctx context.Context, client *HTTPClient, locator string) (string, error)

	// IsVOD reports whether locator names an archived video rather than a
	// live channel.
	IsVOD(locator string) bool
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]Driver{}
)

// Register adds a driver to the global registry.
func Register(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[d.Name()] = d
}

// Get returns a registered driver by name.
func Get(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		names := make([]string, 0, len(drivers))
		for n := range drivers {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown driver %q (available: %v)", name, names)
	}
	return d, nil
}

// IsManifestURL reports whether s already points at an HLS playlist.
func IsManifestURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	path := s
	if i := strings.IndexAny(path, "?#"); i != -1 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".m3u8")
}
