package shellcache

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestOriginForwardsRequest(t *testing.T) {
	var got *http.Request
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Answer", "42")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "created")
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	o := NewOrigin(*u, "app.example")

	req := httptest.NewRequest(http.MethodPost, "/api/orders?x=1", strings.NewReader(`{"id":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.Header.Set("Connection", "close")
	res, err := o.Fetch(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)

	if res.StatusCode != http.StatusCreated || string(b) != "created" || res.Header.Get("X-Answer") != "42" {
		t.Fatalf("Response is %d %s %v", res.StatusCode, b, res.Header)
	}
	if got.Method != http.MethodPost || got.URL.RequestURI() != "/api/orders?x=1" || gotBody != `{"id":1}` {
		t.Fatalf("Origin got %s %s %s", got.Method, got.URL.RequestURI(), gotBody)
	}
	if got.Host != "app.example" {
		t.Fatalf("Host is %s", got.Host)
	}
	if got.Header.Get("Content-Type") != "application/json" || got.Header.Get("X-Forwarded-For") != "" {
		t.Fatalf("Headers are %v", got.Header)
	}
}

func TestOriginDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	res, err := NewOrigin(*u, "").Fetch(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusFound || res.Header.Get("Location") != "/elsewhere" {
		t.Fatalf("Response is %d %v", res.StatusCode, res.Header)
	}
}

func TestOriginNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	srv.Close()

	_, err := NewOrigin(*u, "").Fetch(httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Error is %v", err)
	}
}
