package netstate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// broadcaster holds the online flag and notifies subscribers on transitions
type broadcaster struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *broadcaster) Subscribe(fn func(online bool)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(bool))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// set updates the flag and reports whether it changed. Subscribers run
// outside the lock so they may query the state.
func (b *broadcaster) set(online bool) bool {
	b.mu.Lock()
	if b.online == online {
		b.mu.Unlock()
		return false
	}
	b.online = online
	fns := make([]func(bool), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
	return true
}

// Manual is a Connectivity whose state is set by hand (--offline, tests).
type Manual struct {
	broadcaster
}

func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	return m
}

// Set changes the state, notifying subscribers on a transition
func (m *Manual) Set(online bool) {
	m.set(online)
}

// Prober checks whether the server answers
type Prober interface {
	Health(ctx context.Context) error
}

const probeTimeout = 5 * time.Second

// Monitor derives connectivity from periodic health probes.
// It starts offline until the first successful probe.
type Monitor struct {
	broadcaster
	prober Prober
	logger *slog.Logger
}

func NewMonitor(prober Prober, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{prober: prober, logger: logger}
}

// Probe checks the server once and updates the state
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := m.prober.Health(ctx)
	online := err == nil
	if m.set(online) {
		if online {
			m.logger.Info("server reachable, back online")
		} else {
			m.logger.Warn("server unreachable, going offline", "error", err)
		}
	}
	return online
}
