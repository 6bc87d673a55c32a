// Package rfc9211 implements the Cache-Status response header field.
package rfc9211

import "github.com/dunglas/httpsfv"

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates caches' handling
// §     of the request corresponding to the response it occurs within.
// §
// §     Its value is a List (Section 3.1 of [STRUCTURED-FIELDS]):
// §
// §     Cache-Status   = sf-list
// §
// §     Each member of the list represents a cache that has handled the
// §     request.  The first member of the list represents the cache closest
// §     to the origin server, and the last member of the list represents the
// §     cache closest to the user (possibly including the user agent's cache
// §     itself, if it appends a value).

// CacheStatus is one member of a Cache-Status list.
type CacheStatus struct {
	// Identifies the cache, either a Token or a String.
	Cache     string
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

// §  2.1.  The hit Parameter
// §
// §     "hit", when true, indicates that the request was satisfied by the
// §     cache; that is, it was not forwarded, and the response was obtained
// §     from the cache.

// Hit marks the request as satisfied by the cache.
func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin and
// §     why.

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"
	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// The cache did not contain any responses that could be used to
	// satisfy this request (to be used when an implementation cannot
	// distinguish between uri-miss and vary-miss).
	FwdReasonMiss FwdReason = "miss"
)

// Forward marks the request as forwarded towards the origin.
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// §  2.5.  The stored Parameter
// §
// §     "stored" indicates whether the cache stored the response (Section 3
// §     of [HTTP-CACHING]); a true value indicates that it did.

// §  2.8.  The detail Parameter
// §
// §     "detail" allows implementations to convey additional information not
// §     captured in other parameters, such as implementation-specific states
// §     or other caching-related metrics.

// String returns the list member, e.g. `ShellCache;fwd=uri-miss`.
// It returns an empty string if the member cannot be serialized.
func (cs CacheStatus) String() string {
	item := httpsfv.NewItem(tokenOrString(cs.Cache))
	switch cs.Status {
	case StatusHit:
		item.Params.Add("hit", true)
	case StatusFwd:
		if cs.FwdReason != "" {
			item.Params.Add("fwd", httpsfv.Token(cs.FwdReason))
		}
	}
	if cs.Stored {
		item.Params.Add("stored", true)
	}
	if cs.Detail != "" {
		item.Params.Add("detail", tokenOrString(cs.Detail))
	}
	s, err := httpsfv.Marshal(httpsfv.List{item})
	if err != nil {
		return ""
	}
	return s
}

// tokenOrString returns s as an sf-token if it is a valid one, or else as an sf-string.
func tokenOrString(s string) interface{} {
	if _, err := httpsfv.Marshal(httpsfv.NewItem(httpsfv.Token(s))); err == nil {
		return httpsfv.Token(s)
	}
	return s
}
