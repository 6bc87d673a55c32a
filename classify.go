package shellcache

import (
	"net/http"
	"strings"
)

// Class is the routing decision for a request.
type Class string

const (
	// Dynamic requests always go to the network and never touch the cache.
	Dynamic Class = "dynamic"
	// ShellEligible requests are served cache-first.
	ShellEligible Class = "shell"
)

// Reason tells why a request is dynamic.
type Reason string

const (
	ReasonAPIPrefix    Reason = "api-prefix"
	ReasonAPISubstring Reason = "api-substring"
	ReasonMethod       Reason = "method"
)

type Classification struct {
	Class  Class
	Reason Reason
}

// Classify decides whether a request is dynamic or belongs to the app shell.
// A request is dynamic if its path starts with "/api/" or contains "api"
// anywhere, or if its method is not GET. Path checks come first.
// The path is matched in its escaped form, the query string is ignored.
func Classify(r *http.Request) Classification {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	switch {
	case strings.HasPrefix(path, "/api/"):
		return Classification{Class: Dynamic, Reason: ReasonAPIPrefix}
	case strings.Contains(path, "api"):
		return Classification{Class: Dynamic, Reason: ReasonAPISubstring}
	case r.Method != http.MethodGet:
		return Classification{Class: Dynamic, Reason: ReasonMethod}
	}
	return Classification{Class: ShellEligible}
}
