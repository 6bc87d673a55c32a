package main

import (
	"errors"
	"io"
	"net/http"

	shellcache "github.com/always-cache/shellcache"
	"github.com/always-cache/shellcache/cache"
	"github.com/always-cache/shellcache/host"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

type server struct {
	reg    *host.Registration
	worker *shellcache.Worker
	caches *cache.CacheStorage
	log    zerolog.Logger
}

type status struct {
	State   host.State `json:"state"`
	Active  bool       `json:"active"`
	Version string     `json:"version"`
	// whether the cache of the current version exists
	Cached bool     `json:"cached"`
	Caches []string `json:"caches"`
}

// routes serves the control endpoints under /.shellcache
// and hands everything else to the registration.
func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/.shellcache", func(r chi.Router) {
		r.Get("/healthz", s.healthz)
		r.Get("/status", s.status)
		r.Post("/update", s.update)
	})
	r.Handle("/*", s.reg)
	return r
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "ok")
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	names, err := s.caches.Keys(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Could not list caches")
		http.Error(w, "Could not list caches", http.StatusInternalServerError)
		return
	}
	cached, err := s.caches.Has(r.Context(), s.worker.Version())
	if err != nil {
		s.log.Error().Err(err).Msg("Could not look up current cache")
		http.Error(w, "Could not list caches", http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, status{
		State:   s.reg.State(),
		Active:  s.reg.Active() != nil,
		Version: s.worker.Version(),
		Cached:  cached,
		Caches:  names,
	})
}

// update installs and activates the worker again,
// e.g. after the origin deployed new shell resources under the same version.
// If the worker never got installed, it is registered now.
func (s *server) update(w http.ResponseWriter, r *http.Request) {
	err := s.reg.Update(r.Context())
	if errors.Is(err, host.ErrNoWorker) {
		err = s.reg.Register(r.Context(), s.worker)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Update failed")
		http.Error(w, "Update failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	io.WriteString(w, "Updated "+s.worker.Version())
}
