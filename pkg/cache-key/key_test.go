package cachekey

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	keygen := NewCacheKeyer("this-is-the-origin")
	r, _ := http.NewRequest("GET", "http://dev.localhost/page?source=pwa#top", nil)
	key := keygen.GetKey(r)
	if key != "GET:/page?source=pwa" {
		t.Fatalf("Key is %s", key)
	}
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "/page?source=pwa" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
	if req.Method != "GET" {
		t.Fatalf("Created request method for key %s is %s", key, req.Method)
	}
}

func TestKeyIncludesMethod(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	get, _ := http.NewRequest("GET", "/", nil)
	post, _ := http.NewRequest("POST", "/", nil)
	if keygen.GetKey(get) == keygen.GetKey(post) {
		t.Fatal("GET and POST share a key")
	}
}

func TestRootKeyForEmptyPath(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	r, _ := http.NewRequest("GET", "http://dev.localhost", nil)
	if key := keygen.GetKey(r); key != "GET:/" {
		t.Fatalf("Key is %s", key)
	}
}

func TestMalformedKey(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	for _, key := range []string{"", "GET", ":/page", "GET:page"} {
		if _, err := keygen.GetRequestFromKey(key); !errors.Is(err, ErrorMalformedKey) {
			t.Fatalf("Key %q gave error %v", key, err)
		}
	}
}

func TestScopePrefixIncludesScope(t *testing.T) {
	scope := "http://localhost:3000"
	keygen := NewCacheKeyer(scope)
	if !strings.Contains(keygen.ScopePrefix, scope) {
		t.Fatalf("ScopePrefix is %s", keygen.ScopePrefix)
	}
	cacheName := keygen.CacheName("speisplan-app-v1")
	if name, ok := keygen.NameFromCacheName(cacheName); !ok || name != "speisplan-app-v1" {
		t.Fatalf("Name from %s is %s", cacheName, name)
	}
	if _, ok := NewCacheKeyer("http://other").NameFromCacheName(cacheName); ok {
		t.Fatal("Cache name matched a foreign scope")
	}
}
