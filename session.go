// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/luxfi/log"

	"github.com/luxfi/fhesession/crypto/fhe"
)

// Listener observes session transitions. Listeners are invoked in
// registration order on every transition, including intermediate progress
// updates while initializing. A panicking listener never affects the
// transition or the other listeners.
type Listener func(Snapshot)

const (
	// listenerLeakThreshold is the subscriber count at which a leak
	// warning is logged. Registration is never blocked.
	listenerLeakThreshold = 100

	// maxListenerFaults bounds the retained history of recovered
	// listener panics; older faults are evicted first.
	maxListenerFaults = 32
)

type subscriber struct {
	id uint64
	fn Listener
}

// Session owns the lifecycle of a cryptographic engine instance:
// idle -> initializing -> ready/error. Superseded initialization attempts
// are cancelled and their completions discarded, so a stale attempt can
// never publish its engine over a newer one.
type Session struct {
	resolver Resolver
	log      log.Logger

	mu       sync.Mutex
	state    State
	progress string
	engine   fhe.Engine
	err      error

	cfg    Config
	hasCfg bool

	attempt uint64
	cancel  context.CancelFunc

	subs   []subscriber
	nextID uint64
	faults []error

	// queue and notifying implement reentrancy-safe ordered delivery:
	// transitions append snapshots, and a single logical drainer delivers
	// them with the lock released, so listeners may call back into the
	// session without deadlocking or reordering notifications.
	queue     []Snapshot
	notifying bool

	// watch is closed and replaced on every transition.
	watch chan struct{}
}

// NewSession creates an idle session that will construct engine instances
// through the given resolver.
func NewSession(resolver Resolver, logger log.Logger) *Session {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Session{
		resolver: resolver,
		log:      logger,
		watch:    make(chan struct{}),
	}
}

// Initialize begins a new initialization attempt, cancelling any attempt
// still in flight. The session transitions to Initializing synchronously;
// the terminal Ready or Error transition is published once the resolver
// completes, unless the attempt has been superseded by then.
func (s *Session) Initialize(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempt++
	id := s.attempt
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.cfg = cfg
	s.hasCfg = true

	s.transitionLocked(Snapshot{State: StateInitializing})

	go s.run(ctx, id, cfg)
}

// InitializeIfChanged is a memoized Initialize: if the session is already
// Ready (or still Initializing) under a structurally equal configuration it
// does nothing and returns false. Equality covers the primitive fields only,
// never the opaque provider.
func (s *Session) InitializeIfChanged(cfg Config) bool {
	s.mu.Lock()
	if s.hasCfg && s.cfg.Equal(cfg) && (s.state == StateReady || s.state == StateInitializing) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.Initialize(cfg)
	return true
}

// Refresh re-runs initialization with the last configuration.
func (s *Session) Refresh() error {
	s.mu.Lock()
	if !s.hasCfg {
		s.mu.Unlock()
		return newError(CodeNoConfig, "refresh requires a prior initialize", ErrNoConfig)
	}
	cfg := s.cfg
	s.mu.Unlock()

	s.Initialize(cfg)
	return nil
}

// Destroy cancels any in-flight attempt, clears all subscribers, releases
// the engine reference, and resets the session to Idle. A resolution that
// completes after Destroy is discarded.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempt++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.state = StateIdle
	s.progress = ""
	s.engine = nil
	s.err = nil
	s.cfg = Config{}
	s.hasCfg = false
	s.subs = nil
	s.queue = nil

	close(s.watch)
	s.watch = make(chan struct{})
}

// Subscribe registers a listener and returns its unsubscribe function. The
// listener is not called with the current state; it observes transitions
// from registration onward.
func (s *Session) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	if len(s.subs) == listenerLeakThreshold {
		s.log.Warn(
			"possible session listener leak",
			log.Int("listeners", len(s.subs)),
		)
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = slices.Delete(s.subs, i, i+1)
				return
			}
		}
	}
}

// Snapshot returns the current state view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:    s.state,
		Progress: s.progress,
		Engine:   s.engine,
		Err:      s.err,
	}
}

// IsReady reports whether a live engine instance is available.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

// IsInitializing reports whether an initialization attempt is in flight.
func (s *Session) IsInitializing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateInitializing
}

// Engine returns the live engine instance. The reference is only borrowed:
// it is valid until the next transition away from Ready.
func (s *Session) Engine() (fhe.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, false
	}
	return s.engine, true
}

// Err returns the structured error of the Error state, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateError {
		return nil
	}
	return s.err
}

// WaitReady blocks until the session is Ready (returning the engine),
// reaches Error (returning its error), or the context is done.
func (s *Session) WaitReady(ctx context.Context) (fhe.Engine, error) {
	for {
		s.mu.Lock()
		switch s.state {
		case StateReady:
			engine := s.engine
			s.mu.Unlock()
			return engine, nil
		case StateError:
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		watch := s.watch
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-watch:
		}
	}
}

// ListenerFaults returns the recovered listener panics collected so far,
// oldest first.
func (s *Session) ListenerFaults() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.faults)
}

func (s *Session) run(ctx context.Context, id uint64, cfg Config) {
	engine, err := s.resolver.Resolve(ctx, cfg, func(progress string) {
		s.reportProgress(id, progress)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != s.attempt {
		// A newer attempt owns the session now; this completion loses the
		// race and is dropped without surfacing anything.
		s.log.Debug(
			"discarding superseded initialization attempt",
			log.Uint64("attempt", id),
			log.Uint64("current", s.attempt),
		)
		return
	}

	if ctx.Err() != nil {
		// Cancelled without a successor: revert to idle, not error.
		s.transitionLocked(Snapshot{State: StateIdle})
		return
	}

	if err != nil {
		s.log.Warn(
			"engine initialization failed",
			log.Uint64("chainID", cfg.ChainID),
			log.Err(err),
		)
		s.transitionLocked(Snapshot{
			State: StateError,
			Err:   newError(CodeInitialization, "engine initialization failed", err),
		})
		return
	}

	s.transitionLocked(Snapshot{State: StateReady, Engine: engine})
}

func (s *Session) reportProgress(id uint64, progress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.attempt || s.state != StateInitializing {
		return
	}
	s.transitionLocked(Snapshot{State: StateInitializing, Progress: progress})
}

// transitionLocked publishes a new state. The caller must hold s.mu; the
// lock is released while listeners run and re-acquired before returning.
func (s *Session) transitionLocked(snap Snapshot) {
	s.state = snap.State
	s.progress = snap.Progress
	s.engine = snap.Engine
	s.err = snap.Err

	close(s.watch)
	s.watch = make(chan struct{})

	s.queue = append(s.queue, snap)
	s.drainLocked()
}

func (s *Session) drainLocked() {
	if s.notifying {
		// A drain further up the stack will deliver the queued snapshot.
		return
	}
	s.notifying = true
	for len(s.queue) > 0 {
		snap := s.queue[0]
		s.queue = s.queue[1:]
		subs := slices.Clone(s.subs)

		s.mu.Unlock()
		for _, sub := range subs {
			s.notify(sub, snap)
		}
		s.mu.Lock()
	}
	s.notifying = false
}

func (s *Session) notify(sub subscriber, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn(
				"session listener panicked",
				log.Uint64("listener", sub.id),
				log.String("state", snap.State.String()),
				log.String("panic", fmt.Sprint(r)),
			)
			s.recordFault(fmt.Errorf("listener %d panicked in %s: %v", sub.id, snap.State, r))
		}
	}()
	sub.fn(snap)
}

func (s *Session) recordFault(fault error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.faults) >= maxListenerFaults {
		s.faults = s.faults[1:]
	}
	s.faults = append(s.faults, fault)
}
