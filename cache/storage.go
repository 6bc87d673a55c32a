// Package cache implements named, versioned response caches on top of a
// pluggable storage provider, modelled on the browser Cache Storage API.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	cachekey "github.com/always-cache/shellcache/pkg/cache-key"
	serializer "github.com/always-cache/shellcache/pkg/response-serializer"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoMatch is returned by Match when no stored response matches the request.
	ErrNoMatch = errors.New("no matching response")
	// ErrPrecacheFailed is returned by AddAll when any URL could not be fetched or stored.
	ErrPrecacheFailed = errors.New("precache failed")
)

const defaultFetchConcurrency = 4

// Fetcher performs the network requests of AddAll.
type Fetcher interface {
	Fetch(*http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(*http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(r *http.Request) (*http.Response, error) {
	return f(r)
}

type StorageConfig struct {
	// Storage for cache entries.
	Provider Provider
	// Network used to fill caches in AddAll.
	Fetcher Fetcher
	// Scope owning the caches, usually the origin URL.
	// Caches of other scopes in the same provider are invisible.
	Scope string
	// Max number of concurrent fetches in AddAll. Defaults to 4.
	FetchConcurrency int
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// CacheStorage is the set of named caches of one scope.
type CacheStorage struct {
	provider    Provider
	fetcher     Fetcher
	keyer       cachekey.CacheKeyer
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

// Cache is a handle to one named cache. It is a small value and may be copied.
type Cache struct {
	storage *CacheStorage
	name    string
}

func NewCacheStorage(config StorageConfig) *CacheStorage {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.Nop()
	} else {
		logger = *config.Logger
	}
	concurrency := config.FetchConcurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	return &CacheStorage{
		provider:    config.Provider,
		fetcher:     config.Fetcher,
		keyer:       cachekey.NewCacheKeyer(config.Scope),
		concurrency: concurrency,
		log:         logger.With().Str("scope", config.Scope).Logger(),
		now:         time.Now,
	}
}

// Open returns the cache with the given name, creating it if needed.
func (s *CacheStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := s.provider.Create(ctx, s.keyer.CacheName(name)); err != nil {
		return Cache{}, fmt.Errorf("open cache %s: %w", name, err)
	}
	return Cache{storage: s, name: name}, nil
}

// Has reports whether a cache with the given name exists.
func (s *CacheStorage) Has(ctx context.Context, name string) (bool, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Keys returns the names of all caches in creation order.
func (s *CacheStorage) Keys(ctx context.Context) ([]string, error) {
	cacheNames, err := s.provider.Names(ctx, s.keyer.ScopePrefix)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	names := make([]string, 0, len(cacheNames))
	for _, cacheName := range cacheNames {
		if name, ok := s.keyer.NameFromCacheName(cacheName); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Delete removes the named cache and reports whether it existed.
func (s *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := s.provider.Delete(ctx, s.keyer.CacheName(name))
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	s.log.Trace().Str("cache", name).Bool("existed", existed).Msg("Deleted cache")
	return existed, nil
}

// Match looks the request up in every cache, in creation order,
// and returns the first stored response. It returns ErrNoMatch if there is none.
func (s *CacheStorage) Match(ctx context.Context, r *http.Request) (*http.Response, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		res, err := Cache{storage: s, name: name}.Match(ctx, r)
		if errors.Is(err, ErrNoMatch) {
			continue
		}
		return res, err
	}
	return nil, ErrNoMatch
}

// Match returns the stored response for the request method and URL,
// or ErrNoMatch.
func (c Cache) Match(ctx context.Context, r *http.Request) (*http.Response, error) {
	key := c.storage.keyer.GetKey(r)
	b, err := c.storage.provider.Get(ctx, c.storage.keyer.CacheName(c.name), key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("match %s in %s: %w", key, c.name, err)
	}
	sRes, err := serializer.BytesToResponse(b, r)
	if err != nil {
		return nil, fmt.Errorf("read stored response %s in %s: %w", key, c.name, err)
	}
	return sRes.Response, nil
}

// Keys returns the requests stored in the cache.
func (c Cache) Keys(ctx context.Context) ([]*http.Request, error) {
	keys, err := c.storage.provider.Keys(ctx, c.storage.keyer.CacheName(c.name))
	if err != nil {
		return nil, fmt.Errorf("keys of %s: %w", c.name, err)
	}
	requests := make([]*http.Request, 0, len(keys))
	for _, key := range keys {
		req, err := c.storage.keyer.GetRequestFromKey(key)
		if err != nil {
			c.storage.log.Warn().Err(err).Str("cache", c.name).Msg("Skipping unreadable key")
			continue
		}
		requests = append(requests, req.WithContext(ctx))
	}
	return requests, nil
}

// AddAll fetches every URL with GET and stores the responses.
// It succeeds only if every response is ok (2xx) and everything was stored;
// otherwise it returns an error matching ErrPrecacheFailed and stores nothing.
func (c Cache) AddAll(ctx context.Context, urls []string) error {
	entries := make([]Entry, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.storage.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			entry, err := c.storage.fetchEntry(gctx, u)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrPrecacheFailed, u, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := c.storage.provider.PutAll(ctx, c.storage.keyer.CacheName(c.name), entries); err != nil {
		return fmt.Errorf("%w: store %s: %w", ErrPrecacheFailed, c.name, err)
	}
	c.storage.log.Debug().Str("cache", c.name).Int("entries", len(entries)).Msg("Cache filled")
	return nil
}

func (s *CacheStorage) fetchEntry(ctx context.Context, u string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Entry{}, err
	}
	s.log.Trace().Str("url", u).Msg("Fetching for cache")
	res, err := s.fetcher.Fetch(req)
	if err != nil {
		return Entry{}, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
		return Entry{}, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	b, err := serializer.ResponseToBytes(res, s.now())
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: s.keyer.GetKey(req), Bytes: b}, nil
}
