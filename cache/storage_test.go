package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// origin serves every path with its own path as body,
// except paths listed in status which get that status code.
func testOrigin(calls *int32, status map[string]int) Fetcher {
	return FetcherFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(calls, 1)
		rec := httptest.NewRecorder()
		if code, ok := status[r.URL.Path]; ok {
			rec.WriteHeader(code)
		}
		rec.Header().Set("Content-Type", "text/plain")
		io.WriteString(rec, "body of "+r.URL.RequestURI())
		res := rec.Result()
		res.Request = r
		return res, nil
	})
}

func newTestStorage(p Provider, f Fetcher, scope string) *CacheStorage {
	return NewCacheStorage(StorageConfig{
		Provider: p,
		Fetcher:  f,
		Scope:    scope,
	})
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

func get(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, nil)
}

func TestAddAllThenMatch(t *testing.T) {
	ctx := context.Background()
	var calls int32
	s := newTestStorage(NewMemoryProvider(), testOrigin(&calls, nil), "http://origin")

	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, c.AddAll(ctx, []string{"/", "/app.css", "/?source=pwa"}))
	assert.EqualValues(t, 3, calls)

	res, err := c.Match(ctx, get("/app.css"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	assert.Empty(t, res.Header.Get("Shellcache-Stored-At"))
	assert.Equal(t, "body of /app.css", readBody(t, res))

	res, err = c.Match(ctx, get("/?source=pwa"))
	require.NoError(t, err)
	assert.Equal(t, "body of /?source=pwa", readBody(t, res))

	_, err = c.Match(ctx, get("/?source=other"))
	assert.ErrorIs(t, err, ErrNoMatch)
	_, err = c.Match(ctx, httptest.NewRequest(http.MethodHead, "/", nil))
	assert.ErrorIs(t, err, ErrNoMatch)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	uris := make([]string, len(keys))
	for i, k := range keys {
		uris[i] = k.URL.RequestURI()
	}
	assert.ElementsMatch(t, []string{"/", "/app.css", "/?source=pwa"}, uris)
}

func TestAddAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	var calls int32
	origin := testOrigin(&calls, map[string]int{"/missing.png": http.StatusNotFound})
	s := newTestStorage(NewMemoryProvider(), origin, "http://origin")

	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	err = c.AddAll(ctx, []string{"/", "/missing.png", "/app.css"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrecacheFailed)
	assert.Contains(t, err.Error(), "/missing.png")

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, err = s.Match(ctx, get("/"))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestAddAllNetworkError(t *testing.T) {
	ctx := context.Background()
	netErr := errors.New("connection refused")
	origin := FetcherFunc(func(r *http.Request) (*http.Response, error) {
		return nil, netErr
	})
	s := newTestStorage(NewMemoryProvider(), origin, "http://origin")

	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	err = c.AddAll(ctx, []string{"/"})
	assert.ErrorIs(t, err, ErrPrecacheFailed)
	assert.ErrorIs(t, err, netErr)
}

type failingPutProvider struct {
	Provider
}

func (f failingPutProvider) PutAll(ctx context.Context, name string, entries []Entry) error {
	return errors.New("disk full")
}

func TestAddAllStoreError(t *testing.T) {
	ctx := context.Background()
	var calls int32
	s := newTestStorage(failingPutProvider{NewMemoryProvider()}, testOrigin(&calls, nil), "http://origin")

	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	err = c.AddAll(ctx, []string{"/", "/a"})
	assert.ErrorIs(t, err, ErrPrecacheFailed)
	assert.Contains(t, err.Error(), "disk full")
}

func TestAddAllDuplicateURLs(t *testing.T) {
	ctx := context.Background()
	var calls int32
	s := newTestStorage(NewMemoryProvider(), testOrigin(&calls, nil), "http://origin")

	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, c.AddAll(ctx, []string{"/", "/"}))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestAddAllEmpty(t *testing.T) {
	ctx := context.Background()
	var calls int32
	s := newTestStorage(NewMemoryProvider(), testOrigin(&calls, nil), "http://origin")

	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, c.AddAll(ctx, nil))
	assert.EqualValues(t, 0, calls)
	has, err := s.Has(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStorageMatchSearchesCachesInCreationOrder(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	first := newTestStorage(p, FetcherFunc(func(r *http.Request) (*http.Response, error) {
		return httptest.NewRecorder().Result(), nil
	}), "http://origin")
	var calls int32
	second := newTestStorage(p, testOrigin(&calls, nil), "http://origin")

	old, err := first.Open(ctx, "old")
	require.NoError(t, err)
	require.NoError(t, old.AddAll(ctx, []string{"/"}))
	current, err := second.Open(ctx, "current")
	require.NoError(t, err)
	require.NoError(t, current.AddAll(ctx, []string{"/", "/only-current"}))

	res, err := second.Match(ctx, get("/"))
	require.NoError(t, err)
	assert.Equal(t, "", readBody(t, res))

	res, err = second.Match(ctx, get("/only-current"))
	require.NoError(t, err)
	assert.Equal(t, "body of /only-current", readBody(t, res))

	_, err = second.Match(ctx, get("/nowhere"))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestStorageScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	var calls int32
	a := newTestStorage(p, testOrigin(&calls, nil), "http://a")
	b := newTestStorage(p, testOrigin(&calls, nil), "http://b")

	ca, err := a.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, ca.AddAll(ctx, []string{"/"}))

	names, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = b.Match(ctx, get("/"))
	assert.ErrorIs(t, err, ErrNoMatch)

	existed, err := b.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, existed)
	has, err := a.Has(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStorageKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	var calls int32
	s := newTestStorage(NewMemoryProvider(), testOrigin(&calls, nil), "http://origin")
	for _, name := range []string{"v2", "v1", "v3"} {
		_, err := s.Open(ctx, name)
		require.NoError(t, err)
	}

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2", "v1", "v3"}, names)

	existed, err := s.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, existed)
	names, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2", "v3"}, names)
}

func TestStoredResponseKeepsHeadersAndStatus(t *testing.T) {
	ctx := context.Background()
	origin := FetcherFunc(func(r *http.Request) (*http.Response, error) {
		rec := httptest.NewRecorder()
		rec.Header().Set("Content-Type", "application/manifest+json")
		rec.Header().Add("Link", "</a>; rel=preload")
		rec.Header().Add("Link", "</b>; rel=preload")
		rec.WriteHeader(http.StatusNonAuthoritativeInfo)
		io.WriteString(rec, strings.Repeat("x", 10000))
		return rec.Result(), nil
	})
	s := newTestStorage(NewMemoryProvider(), origin, "http://origin")
	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, c.AddAll(ctx, []string{"/manifest.json"}))

	res, err := s.Match(ctx, get("/manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNonAuthoritativeInfo, res.StatusCode)
	assert.Equal(t, "application/manifest+json", res.Header.Get("Content-Type"))
	assert.Len(t, res.Header.Values("Link"), 2)
	assert.Len(t, readBody(t, res), 10000)
}
