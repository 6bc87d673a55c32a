// Package manifest holds the precache manifest of the application shell:
// the resources stored on install, and the version tag naming the cache
// generation they are stored in.
package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// VersionTag names the current cache generation.
// Changing it is the only way to invalidate precached content.
// It is a var so builds can set it with -ldflags "-X".
var VersionTag = "speisplan-app-v1"

// urls is the ordered list of shell resources.
var urls = []string{
	"/",
	"/?source=pwa",
	"/static/js/bundle.js",
	"/static/css/main.css",
	"/manifest.json",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
}

var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is a version tag plus the shell URLs to store under it.
type Manifest struct {
	Version string
	URLs    []string
}

// Default returns the manifest built into this binary.
// The returned value owns its URL slice.
func Default() Manifest {
	return Manifest{
		Version: VersionTag,
		URLs:    URLs(),
	}
}

// URLs returns a copy of the built-in shell URLs.
func URLs() []string {
	out := make([]string, len(urls))
	copy(out, urls)
	return out
}

// IsZero reports whether m has neither a version nor URLs.
func (m Manifest) IsZero() bool {
	return m.Version == "" && len(m.URLs) == 0
}

// Validate checks that the version is set and every URL is a same-origin
// absolute path. Duplicate URLs are allowed.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%w: empty version tag", ErrInvalidManifest)
	}
	for i, u := range m.URLs {
		if !strings.HasPrefix(u, "/") || strings.HasPrefix(u, "//") {
			return fmt.Errorf("%w: urls[%d] %q is not a same-origin absolute path", ErrInvalidManifest, i, u)
		}
	}
	return nil
}
