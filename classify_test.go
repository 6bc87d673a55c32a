package shellcache

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		method   string
		target   string
		expected Classification
	}{
		{"GET", "/", Classification{Class: ShellEligible}},
		{"GET", "/?source=pwa", Classification{Class: ShellEligible}},
		{"GET", "/static/js/bundle.js", Classification{Class: ShellEligible}},
		{"GET", "/unknown.html", Classification{Class: ShellEligible}},
		{"GET", "/?q=api", Classification{Class: ShellEligible}},
		{"GET", "/api/users", Classification{Class: Dynamic, Reason: ReasonAPIPrefix}},
		{"POST", "/api/users", Classification{Class: Dynamic, Reason: ReasonAPIPrefix}},
		{"GET", "/api", Classification{Class: Dynamic, Reason: ReasonAPISubstring}},
		{"GET", "/capital-cities.html", Classification{Class: Dynamic, Reason: ReasonAPISubstring}},
		{"GET", "/therapist", Classification{Class: Dynamic, Reason: ReasonAPISubstring}},
		{"GET", "/v1/api/x", Classification{Class: Dynamic, Reason: ReasonAPISubstring}},
		{"GET", "/API/users", Classification{Class: ShellEligible}},
		{"POST", "/", Classification{Class: Dynamic, Reason: ReasonMethod}},
		{"HEAD", "/", Classification{Class: Dynamic, Reason: ReasonMethod}},
		{"OPTIONS", "/manifest.json", Classification{Class: Dynamic, Reason: ReasonMethod}},
	}
	for _, c := range cases {
		r := httptest.NewRequest(c.method, c.target, nil)
		if got := Classify(r); got != c.expected {
			t.Errorf("%s %s classified as %+v, expected %+v", c.method, c.target, got, c.expected)
		}
	}
}

func TestClassifyEmptyPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.URL.Path = ""
	r.URL.RawPath = ""
	if got := Classify(r); got.Class != ShellEligible {
		t.Fatalf("Empty path classified as %+v", got)
	}
}

func TestClassifyEscapedPath(t *testing.T) {
	// %61 is "a", the escaped path does not contain "api"
	r := httptest.NewRequest(http.MethodGet, "/%61pi/users", nil)
	if got := Classify(r); got.Class != ShellEligible {
		t.Fatalf("Escaped path classified as %+v", got)
	}
}
