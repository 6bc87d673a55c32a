package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const (
	scopeSeparator  = "#"
	methodSeparator = ":"
)

// CacheKeyer builds the names and keys used in a cache provider.
// Several scopes (origins) can share one provider, so every cache name
// is prefixed with the scope.
type CacheKeyer struct {
	// Unique identifier for the scope owning the caches.
	// Usually this should be the origin URL.
	Scope string
	// Cache name prefix for this scope
	ScopePrefix string
}

func NewCacheKeyer(scope string) CacheKeyer {
	return CacheKeyer{
		Scope:       scope,
		ScopePrefix: scope + scopeSeparator,
	}
}

// CacheName returns the provider-level name of the named cache.
func (c CacheKeyer) CacheName(name string) string {
	return c.ScopePrefix + name
}

// NameFromCacheName strips the scope prefix from a provider-level name.
// It returns false if the name belongs to another scope.
func (c CacheKeyer) NameFromCacheName(cacheName string) (string, bool) {
	return strings.CutPrefix(cacheName, c.ScopePrefix)
}

// GetKey returns the key of a stored response: the request method and request URI.
// Query strings are part of the key, fragments are not.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return r.Method + methodSeparator + r.URL.RequestURI()
}

// GetRequestFromKey creates a request equal to the one that produced the key.
// The request URL is relative to the scope.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	return http.NewRequest(method, uri, nil)
}
