// Package sessionstore implements the Session Store (spec §4.5): an
// in-memory, single-writer map of session_id → Session, enforcing at
// most one active turn and at most one parked turn per session.
//
// Grounded on the teacher's internal/sessions.Store interface shape
// (Create/Get/Update/Delete/List), narrowed from the teacher's
// persistence-backed, multi-channel store to the spec's single in-memory
// map, and on internal/sessions/expiry.go's injectable nowFunc pattern
// for deterministic reaper tests.
package sessionstore

import (
	"errors"
	"sync"
	"time"

	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

var (
	// ErrNotFound is returned by Get/Close/Park/Resume for an unknown
	// session id.
	ErrNotFound = errors.New("sessionstore: session not found")
	// ErrAlreadyActive is returned by Park when the session has no
	// matching active turn to suspend.
	ErrAlreadyActive = errors.New("sessionstore: session already has an active turn")
	// ErrNoParkedTurn is returned by Resume when the session has nothing
	// parked.
	ErrNoParkedTurn = errors.New("sessionstore: no parked turn")
	// ErrMaxSessions is returned by Create once the configured session
	// ceiling is reached (spec §5: "max sessions per daemon, default 64").
	ErrMaxSessions = errors.New("sessionstore: session limit reached")
)

// entry is the store's internal record: the public Session plus the
// bookkeeping needed to enforce the single active/parked turn invariant.
type entry struct {
	session *core.Session
	parked  *turn.ParkedTurn
	active  bool
}

// Config bounds the store's reapers.
type Config struct {
	MaxSessions int           // default 64
	IdleTTL     time.Duration // idle_session_ttl_ms, default 30m
	ParkTTL     time.Duration // park_ttl_ms, default 15m
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions: 64,
		IdleTTL:     30 * time.Minute,
		ParkTTL:     15 * time.Minute,
	}
}

// Store is the single-writer session map. All exported methods are safe
// for concurrent use; critical sections are lookup-and-mutate only, per
// spec §5's "short critical sections" requirement — turn execution itself
// happens entirely outside the store's lock, inside turn.Runner.
type Store struct {
	cfg     Config
	nowFunc func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds an empty Store.
func New(cfg Config) *Store {
	return &Store{
		cfg:     cfg,
		nowFunc: time.Now,
		entries: make(map[string]*entry),
	}
}

// SetNowFunc overrides the store's clock, for deterministic reaper tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = fn
}

// Create registers a brand-new session.
func (s *Store) Create(sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxSessions > 0 && len(s.entries) >= s.cfg.MaxSessions {
		return ErrMaxSessions
	}
	now := s.nowFunc()
	sess.CreatedAt = now
	sess.LastActivity = now
	s.entries[sess.ID] = &entry{session: sess}
	return nil
}

// Get returns the session record, touching its idle clock.
func (s *Store) Get(id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.session.LastActivity = s.nowFunc()
	return e.session, nil
}

// Close evicts a session and any parked turn it holds (spec §4.5:
// "parked turns are evicted when the session closes").
func (s *Store) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// List returns every session id currently held.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

// BeginTurn marks id as having an active turn, failing if one is already
// active or parked (spec §8 property 3: "at most one of {Running, Parked}
// turns exists").
func (s *Store) BeginTurn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.active || e.parked != nil {
		return ErrAlreadyActive
	}
	e.active = true
	return nil
}

// EndTurn clears the active flag, e.g. once a turn reaches a terminal
// status.
func (s *Store) EndTurn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.active = false
	return nil
}

// Park records a parked turn's continuation and clears the active flag
// (spec §4.4 step 2).
func (s *Store) Park(id string, p *turn.ParkedTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.active = false
	e.parked = p
	return nil
}

// Resume pops and returns the parked continuation for id, marking the
// session active again. Callers must then drive turn.Runner.Resume with
// the returned ParkedTurn.
func (s *Store) Resume(id string) (*turn.ParkedTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.parked == nil {
		return nil, ErrNoParkedTurn
	}
	p := e.parked
	e.parked = nil
	e.active = true
	return p, nil
}

// Parked returns the currently parked turn for id without consuming it,
// for turn_id validation ahead of a ResumeTurn request.
func (s *Store) Parked(id string) (*turn.ParkedTurn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.parked, e.parked != nil
}

// ReapIdle closes every session whose LastActivity exceeds IdleTTL, save
// those with an active or parked turn, and returns the closed ids.
func (s *Store) ReapIdle() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.IdleTTL <= 0 {
		return nil
	}
	now := s.nowFunc()
	var reaped []string
	for id, e := range s.entries {
		if e.active || e.parked != nil {
			continue
		}
		if now.Sub(e.session.LastActivity) >= s.cfg.IdleTTL {
			delete(s.entries, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// ReapParked aborts every parked turn older than ParkTTL, returning the
// turns that were aborted (spec §4.4: "a parked turn with no resume
// after park_ttl ... is Aborted with Error{approval_timeout}").
// Callers are responsible for emitting that Error event against each
// returned turn's SessionID/TurnID; this only clears the store-side
// continuation so no further Resume can apply to the aborted turn.
func (s *Store) ReapParked() []*turn.ParkedTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.ParkTTL <= 0 {
		return nil
	}
	now := s.nowFunc()
	var aborted []*turn.ParkedTurn
	for _, e := range s.entries {
		if e.parked == nil {
			continue
		}
		if now.Sub(e.parked.ParkedAt) >= s.cfg.ParkTTL {
			aborted = append(aborted, e.parked)
			e.parked = nil
			e.active = false
		}
	}
	return aborted
}
