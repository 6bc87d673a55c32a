package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	shellcache "github.com/always-cache/shellcache"
	"github.com/always-cache/shellcache/cache"
	"github.com/always-cache/shellcache/host"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// this is set by goreleaser
var version string

func main() {
	if version == "" {
		version = "DEV"
	}

	cfg, err := loadConfig(os.Args[1:], nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if cfg.Trace {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if cfg.LogFile != "" {
		if logFileOutput, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	originURL, err := url.Parse(cfg.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Provider).Msg("Could not open cache provider")
	}
	defer provider.Close()

	network := shellcache.NewOrigin(*originURL, cfg.OriginHost)
	caches := cache.NewCacheStorage(cache.StorageConfig{
		Provider: provider,
		Fetcher:  network,
		Scope:    originURL.String(),
		Logger:   &log.Logger,
	})
	worker, err := shellcache.CreateWorker(shellcache.Config{
		Caches:            caches,
		Network:           network,
		Logger:            &log.Logger,
		CacheStatusHeader: cfg.CacheStatus,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create worker")
	}
	reg := host.NewRegistration(network, &log.Logger)

	// without an installed worker every request is passed to the origin
	if err := reg.Register(ctx, worker); err != nil {
		log.Error().Err(err).Msg("Worker not installed, passing all requests to origin")
	}

	s := &server{reg: reg, worker: worker, caches: caches, log: log.Logger}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", cfg.Port, originURL.String(), cfg.OriginHost)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}
