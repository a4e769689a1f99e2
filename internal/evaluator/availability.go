package evaluator

import (
	"context"
	"sync"
)

// Availability caches whether the remote evaluation service is usable. The
// probe runs at most once; every later call returns the cached answer.
// One Availability is created per lesson and shared by reference.
type Availability struct {
	probe func(ctx context.Context) bool

	mu     sync.Mutex
	known  bool
	usable bool
}

// NewAvailability returns a cache around probe. A nil probe means the remote
// service is never available.
func NewAvailability(probe func(ctx context.Context) bool) *Availability {
	return &Availability{probe: probe}
}

// Available reports the cached availability, probing on first use.
// Concurrent first callers wait for the same probe.
func (a *Availability) Available(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.known {
		a.usable = a.probe != nil && a.probe(ctx)
		a.known = true
	}
	return a.usable
}

// Known reports whether the probe has already run.
func (a *Availability) Known() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.known
}
