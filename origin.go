package shellcache

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Origin fetches requests from the origin server.
// It is the network for both the worker and the registration.
type Origin struct {
	url        url.URL
	host       string
	httpClient http.Client
}

// NewOrigin creates a network fetcher towards originURL.
// Origins with paths are not supported.
// If originHost is set, it is used as Host header and for TLS negotiation,
// e.g. when the origin URL is just an IP address.
func NewOrigin(originURL url.URL, originHost string) *Origin {
	o := &Origin{
		url:  originURL,
		host: originHost,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 60 * time.Second,
		},
	}
	// use provided hostname for origin if configured
	if originHost != "" {
		o.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	return o
}

// URL returns the origin URL.
func (o *Origin) URL() url.URL {
	return o.url
}

// Fetch sends the request to the origin and returns its response unmodified.
// Errors match ErrNetwork.
func (o *Origin) Fetch(r *http.Request) (*http.Response, error) {
	uri := o.url.Scheme + "://" + o.url.Host + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	req.ContentLength = r.ContentLength
	if o.host != "" {
		req.Host = o.host
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")

	res, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return res, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
