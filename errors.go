package shellcache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/always-cache/shellcache/cache"
)

var (
	// ErrPrecacheFailed fails installation: at least one manifest URL
	// could not be fetched with an ok status or stored.
	ErrPrecacheFailed = cache.ErrPrecacheFailed
	// ErrSweepPartialFailure is reported when activation could not delete every stale cache.
	// Activation still succeeds.
	ErrSweepPartialFailure = errors.New("stale cache sweep partially failed")
	// ErrLookup wraps failures of the cache lookup on the shell path.
	// The request is then fetched from the network.
	ErrLookup = errors.New("cache lookup failed")
	// ErrNetwork wraps failures of the network fetch.
	ErrNetwork = errors.New("network fetch failed")
)

// SweepError lists the stale caches that could not be deleted during activation.
type SweepError struct {
	Failed map[string]error
}

func (e *SweepError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name, err := range e.Failed {
		names = append(names, fmt.Sprintf("%s (%v)", name, err))
	}
	return fmt.Sprintf("%s: %s", ErrSweepPartialFailure, strings.Join(names, ", "))
}

func (e *SweepError) Unwrap() error {
	return ErrSweepPartialFailure
}
