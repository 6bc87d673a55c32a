package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoWorker is returned by Update when no worker was ever registered.
var ErrNoWorker = errors.New("no worker registered")

// State is the lifecycle state of a worker.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Worker handles the lifecycle and fetch events of a registration.
type Worker interface {
	Install(*ExtendableEvent)
	Activate(*ExtendableEvent)
	Fetch(*FetchEvent)
}

// Fetcher performs network requests.
type Fetcher interface {
	Fetch(*http.Request) (*http.Response, error)
}

// Registration drives a single worker and dispatches requests to it.
type Registration struct {
	network Fetcher
	log     zerolog.Logger

	// serializes Register and Update
	lifecycle sync.Mutex
	// held for writing while a worker activates, new fetch events wait for it
	mu     sync.RWMutex
	active Worker

	stateMu sync.Mutex
	state   State
}

// NewRegistration creates a registration without a worker.
// Until a worker is active, all requests go straight to the network.
func NewRegistration(network Fetcher, logger *zerolog.Logger) *Registration {
	var log zerolog.Logger
	if logger == nil {
		log = zerolog.Nop()
	} else {
		log = *logger
	}
	return &Registration{
		network: network,
		log:     log,
		state:   StateParsed,
	}
}

// State returns the state of the most recently registered worker.
func (reg *Registration) State() State {
	reg.stateMu.Lock()
	defer reg.stateMu.Unlock()
	return reg.state
}

func (reg *Registration) setState(s State) {
	reg.stateMu.Lock()
	reg.state = s
	reg.stateMu.Unlock()
	reg.log.Trace().Str("state", string(s)).Msg("Worker state changed")
}

// Active returns the active worker, or nil.
func (reg *Registration) Active() Worker {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.active
}

// Register installs the worker and, if installation succeeds, activates it.
// If installation fails the worker becomes redundant, the previously active
// worker (if any) stays in charge and the installation error is returned.
// Activation errors are logged; the worker is active regardless.
func (reg *Registration) Register(ctx context.Context, w Worker) error {
	reg.lifecycle.Lock()
	defer reg.lifecycle.Unlock()

	reg.setState(StateInstalling)
	install := NewExtendableEvent(ctx)
	w.Install(install)
	if err := install.Wait(); err != nil {
		reg.setState(StateRedundant)
		reg.log.Error().Err(err).Msg("Worker installation failed")
		return fmt.Errorf("install: %w", err)
	}
	reg.setState(StateInstalled)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.setState(StateActivating)
	activate := NewExtendableEvent(ctx)
	w.Activate(activate)
	if err := activate.Wait(); err != nil {
		reg.log.Warn().Err(err).Msg("Worker activation finished with errors")
	}
	reg.active = w
	reg.setState(StateActivated)
	reg.log.Info().Msg("Worker activated")
	return nil
}

// Update runs install and activate again for the active worker.
func (reg *Registration) Update(ctx context.Context) error {
	w := reg.Active()
	if w == nil {
		return ErrNoWorker
	}
	return reg.Register(ctx, w)
}

// ServeHTTP dispatches the request as a fetch event to the active worker
// and writes the response it produced.
func (reg *Registration) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := reg.dispatch(r)
	if err != nil {
		reg.log.Warn().Err(err).Str("url", r.URL.String()).Msg("Responding with network error")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	if err := send(w, res); err != nil {
		reg.log.Error().Err(err).Msg("Error writing to client")
	}
}

func (reg *Registration) dispatch(r *http.Request) (*http.Response, error) {
	// only handing the event to the worker is locked, responses are produced after
	reg.mu.RLock()
	active := reg.active
	var ev *FetchEvent
	if active != nil {
		ev = NewFetchEvent(r)
		active.Fetch(ev)
	}
	reg.mu.RUnlock()

	if active == nil {
		reg.log.Trace().Str("url", r.URL.String()).Msg("No active worker, fetching from network")
		return reg.network.Fetch(r)
	}
	respond, ok := ev.getResponder()
	if !ok {
		reg.log.Trace().Str("event", ev.ID.String()).Msg("Worker did not respond, fetching from network")
		return reg.network.Fetch(r)
	}
	return respond()
}

func send(w http.ResponseWriter, res *http.Response) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	for k, vv := range res.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	_, err := io.Copy(w, res.Body)
	return err
}
