// Package shellcache serves the application shell of a single-page app
// cache-first, and everything dynamic from the network.
//
// The shell resources listed in the manifest are stored on install in a cache
// named by the manifest version. Activation deletes all other caches.
// Afterwards every request is classified: API paths and non-GET requests go to
// the network, everything else is looked up in the cache first.
package shellcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/always-cache/shellcache/cache"
	"github.com/always-cache/shellcache/host"
	"github.com/always-cache/shellcache/manifest"
	"github.com/always-cache/shellcache/rfc9211"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	cacheStatusName   = "ShellCache"
	cacheStatusHeader = "Cache-Status"
	lookupErrorDetail = "lookup-error"
	sweepConcurrency  = 4
)

// Fetcher performs network requests.
type Fetcher interface {
	Fetch(*http.Request) (*http.Response, error)
}

type Config struct {
	// Named caches of the origin.
	Caches *cache.CacheStorage
	// Network to use for requests not served from the cache.
	Network Fetcher
	// Shell resources and their version. The built-in manifest is used if zero.
	Manifest manifest.Manifest
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Add a Cache-Status header (RFC 9211) to every response.
	// Off by default, responses are passed on unmodified.
	CacheStatusHeader bool
}

// Worker implements the install, activate and fetch handlers.
// It keeps no state between events besides its configuration.
type Worker struct {
	caches      *cache.CacheStorage
	network     Fetcher
	manifest    manifest.Manifest
	log         zerolog.Logger
	cacheStatus bool
}

var _ host.Worker = (*Worker)(nil)

// CreateWorker initializes the worker.
// It fails if the manifest is not valid.
func CreateWorker(config Config) (*Worker, error) {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	m := config.Manifest
	if m.IsZero() {
		m = manifest.Default()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("cacheVersion", m.Version).
		Logger()

	return &Worker{
		caches:      config.Caches,
		network:     config.Network,
		manifest:    m,
		log:         logger,
		cacheStatus: config.CacheStatusHeader,
	}, nil
}

// Version returns the name of the cache generation this worker owns.
func (w *Worker) Version() string {
	return w.manifest.Version
}

// Install stores every manifest URL in the cache named by the version.
// The event fails with ErrPrecacheFailed if any of them cannot be stored.
func (w *Worker) Install(e *host.ExtendableEvent) {
	e.WaitUntil(func(ctx context.Context) error {
		c, err := w.caches.Open(ctx, w.manifest.Version)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPrecacheFailed, err)
		}
		if err := c.AddAll(ctx, w.manifest.URLs); err != nil {
			w.log.Error().Err(err).Msg("Could not precache shell")
			return err
		}
		w.log.Info().Int("urls", len(w.manifest.URLs)).Msg("Shell precached")
		return nil
	})
}

// Activate deletes every cache other than the current version.
// Deletions that fail are reported as a SweepError; the others still happen.
func (w *Worker) Activate(e *host.ExtendableEvent) {
	e.WaitUntil(w.sweep)
}

func (w *Worker) sweep(ctx context.Context) error {
	names, err := w.caches.Keys(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("Could not list caches")
		return fmt.Errorf("%w: %w", ErrSweepPartialFailure, err)
	}

	var mu sync.Mutex
	failed := make(map[string]error)
	var g errgroup.Group
	g.SetLimit(sweepConcurrency)
	for _, name := range names {
		if name == w.manifest.Version {
			continue
		}
		g.Go(func() error {
			if _, err := w.caches.Delete(ctx, name); err != nil {
				w.log.Warn().Err(err).Str("cache", name).Msg("Could not delete stale cache")
				mu.Lock()
				failed[name] = err
				mu.Unlock()
				return nil
			}
			w.log.Debug().Str("cache", name).Msg("Deleted stale cache")
			return nil
		})
	}
	g.Wait()

	if len(failed) > 0 {
		return &SweepError{Failed: failed}
	}
	return nil
}

// Fetch takes over the response for every request.
func (w *Worker) Fetch(e *host.FetchEvent) {
	e.RespondWith(func() (*http.Response, error) {
		return w.respond(e)
	})
}

func (w *Worker) respond(e *host.FetchEvent) (res *http.Response, err error) {
	r := e.Request
	log := w.log.With().Str("event", e.ID.String()).Logger()
	defer w.recover(r, log, &res, &err)

	log.Trace().Msgf("Incoming request: %s %s", r.Method, r.URL.Path)

	class := Classify(r)
	cs := rfc9211.CacheStatus{Cache: cacheStatusName}
	switch class.Class {
	case Dynamic:
		if class.Reason == ReasonMethod {
			cs.Forward(rfc9211.FwdReasonMethod)
		} else {
			cs.Forward(rfc9211.FwdReasonBypass)
		}
		res, err = w.network.Fetch(r)
	case ShellEligible:
		res, err = w.caches.Match(r.Context(), r)
		switch {
		case err == nil:
			cs.Hit()
		case errors.Is(err, cache.ErrNoMatch):
			cs.Forward(rfc9211.FwdReasonUriMiss)
			res, err = w.network.Fetch(r)
		default:
			log.Warn().Err(fmt.Errorf("%w: %w", ErrLookup, err)).Msg("Falling back to network")
			cs.Forward(rfc9211.FwdReasonMiss)
			cs.Detail = lookupErrorDetail
			res, err = w.network.Fetch(r)
		}
	}

	w.logRequest(log, r, class, cs, err)
	if err != nil {
		return nil, err
	}
	if w.cacheStatus {
		res.Header.Add(cacheStatusHeader, cs.String())
	}
	return res, nil
}

// recover recovers from panics and fetches the request from the network instead.
func (w *Worker) recover(r *http.Request, log zerolog.Logger, res **http.Response, err *error) {
	if p := recover(); p != nil {
		log.WithLevel(zerolog.PanicLevel).Interface("error", p).Msg("Panic in fetch handler")
		// a response obtained before the panic is discarded
		if *res != nil && (*res).Body != nil {
			(*res).Body.Close()
		}
		*res, *err = w.escapeHatch(r)
	}
}

// escapeHatch is a fallback that just fetches the request from the network.
func (w *Worker) escapeHatch(r *http.Request) (*http.Response, error) {
	return w.network.Fetch(r)
}

func (w *Worker) logRequest(log zerolog.Logger, r *http.Request, class Classification, cs rfc9211.CacheStatus, err error) {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	evt := log.Debug()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("class", string(class.Class)).
		Str("reason", string(class.Reason)).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
