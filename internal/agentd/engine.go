// Package agentd implements the Agent Daemon (spec §4.7): the internal
// transport endpoint that owns the Session Store and the Turn Runner.
// Engine is the transport-agnostic core both the websocket gateway
// (internal/wsgateway, in-process) and the daemon's own local
// newline-JSON-over-Unix-domain-socket listener (socket.go) drive;
// neither transport duplicates session or turn bookkeeping.
//
// Grounded on the teacher's internal/gateway/ws_control_plane.go request
// handlers (handleConnect et al.), narrowed to the six operations spec
// §4.6 names and separated from any one wire format so the same logic
// serves both the authenticated external gateway and the unauthenticated
// local socket spec §4.7 describes ("semantics mirror the client
// protocol minus authentication").
package agentd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/agentcore/internal/sessionstore"
	"github.com/agentcore/agentcore/internal/transcript"
	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

// ErrUnknownSession is returned by any Engine operation naming a session
// the daemon has no open runtime for.
var ErrUnknownSession = errors.New("agentd: unknown session")

// sessionRuntime is bookkeeping for one open session that must outlive
// any single turn: the durable transcript handle and the sequence
// counter stay put across a park/resume cycle and across every
// SendPrompt on that session.
type sessionRuntime struct {
	sink    *transcript.Sink
	emitter *turn.SeqEmitter
}

// Engine owns the Session Store and Turn Runner and exposes spec §4.6's
// six operations as plain Go calls, independent of any wire format.
type Engine struct {
	store       *sessionstore.Store
	runner      *turn.Runner
	broadcaster *Broadcaster

	transcriptDir string
	rulesFunc     func() core.RuleSet

	mu       sync.Mutex
	runtimes map[string]*sessionRuntime
}

// NewEngine builds an Engine. runner must already be wired to a Backend
// that routes by the session's `model@backend` target (internal/backend's
// RoutingBackend); transcriptDir is where per-session Transcript Sink
// files live.
func NewEngine(store *sessionstore.Store, runner *turn.Runner, transcriptDir string) *Engine {
	return &Engine{
		store:         store,
		runner:        runner,
		broadcaster:   NewBroadcaster(),
		transcriptDir: transcriptDir,
		runtimes:      make(map[string]*sessionRuntime),
	}
}

// OpenSessionParams are the plain-Go equivalent of the wire-level
// open_session request, shared by every transport.
type OpenSessionParams struct {
	ProjectDir string
	Persona    string
	Target     string
	Mode       core.PermissionMode
}

// SetRulesProvider installs the function the Engine calls at OpenSession
// time to snapshot the current rule set onto the new session (spec §4.1:
// a session's rules are fixed at creation, not re-read per tool call). A
// daemon typically wires this to an internal/config.RuleWatcher's
// Current method so a rules.yaml edit takes effect for sessions opened
// after the edit without requiring a daemon restart. Nil (the default)
// leaves new sessions with an empty RuleSet.
func (e *Engine) SetRulesProvider(f func() core.RuleSet) {
	e.rulesFunc = f
}

// OpenSession creates a new session, its Transcript Sink, and its
// sequence emitter, returning the new session id.
func (e *Engine) OpenSession(p OpenSessionParams) (string, error) {
	mode := p.Mode
	if mode == "" {
		mode = core.ModeDefault
	}

	var rules core.RuleSet
	if e.rulesFunc != nil {
		rules = e.rulesFunc()
	}

	sessionID := uuid.NewString()
	sink, err := transcript.Open(e.transcriptDir, sessionID)
	if err != nil {
		return "", err
	}

	sess := &core.Session{
		ID:           sessionID,
		ProjectDir:   p.ProjectDir,
		Persona:      p.Persona,
		Mode:         mode,
		Target:       p.Target,
		Rules:        rules,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if err := e.store.Create(sess); err != nil {
		_ = sink.Close()
		return "", err
	}

	e.mu.Lock()
	e.runtimes[sessionID] = &sessionRuntime{sink: sink, emitter: turn.NewSeqEmitter(newBroadcastSink(sink, e.broadcaster), 0)}
	e.mu.Unlock()

	return sessionID, nil
}

func (e *Engine) runtimeFor(sessionID string) (*sessionRuntime, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt, ok := e.runtimes[sessionID]
	return rt, ok
}

// AttachSession registers sub to receive every future event for
// sessionID and returns everything persisted after fromSeq, so a
// reconnecting subscriber can catch up without losing history (spec
// §4.6 attach_from_seq).
func (e *Engine) AttachSession(ctx context.Context, sessionID string, sub Subscriber, fromSeq uint64) ([]core.Event, error) {
	rt, ok := e.runtimeFor(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	e.broadcaster.Attach(sessionID, sub)
	return rt.sink.Since(ctx, fromSeq)
}

// DetachSubscriber removes sub from every session it was attached to,
// used when its underlying connection closes.
func (e *Engine) DetachSubscriber(sub Subscriber) {
	e.broadcaster.DetachAll(sub)
}

// SendPrompt admits a new turn and runs it in its own goroutine, so the
// caller's request completes (with the new turn_id) as soon as the turn
// is admitted; progress streams separately to attached subscribers.
func (e *Engine) SendPrompt(sessionID, text string) (string, error) {
	sess, err := e.store.Get(sessionID)
	if err != nil {
		return "", err
	}
	rt, ok := e.runtimeFor(sessionID)
	if !ok {
		return "", ErrUnknownSession
	}
	if err := e.store.BeginTurn(sessionID); err != nil {
		return "", err
	}

	turnID := uuid.NewString()
	userMsg := core.UserMessage(text)

	go func() {
		outcome, _ := e.runner.StartTurn(context.Background(), sess, turnID, userMsg, rt.emitter)
		e.finishTurn(sessionID, outcome)
	}()

	return turnID, nil
}

// ResumeTurn answers a parked turn's pending Ask (spec §4.4). A turn_id
// that does not match the currently parked turn leaves the park slot
// untouched rather than consuming it, so a correct ResumeTurn can still
// land afterwards.
func (e *Engine) ResumeTurn(sessionID, turnID string, approved bool, remember string) error {
	sess, err := e.store.Get(sessionID)
	if err != nil {
		return err
	}
	rt, ok := e.runtimeFor(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	parked, err := e.store.Resume(sessionID)
	if err != nil {
		return err
	}
	if parked.TurnID != turnID {
		_ = e.store.Park(sessionID, parked)
		return turn.ErrStaleResume
	}

	decision := turn.ResumeDecision{Approved: approved, Remember: remember}
	go func() {
		outcome, _ := e.runner.Resume(context.Background(), sess, parked, turnID, decision, rt.emitter)
		e.finishTurn(sessionID, outcome)
	}()
	return nil
}

// finishTurn reconciles the Session Store's turn bookkeeping once a
// goroutine started by SendPrompt or ResumeTurn stops advancing: a
// Parked outcome is stored back for a future ResumeTurn, anything else
// just frees the session via EndTurn for its next turn.
func (e *Engine) finishTurn(sessionID string, outcome turn.Outcome) {
	if outcome.Status == turn.StatusParked && outcome.Parked != nil {
		_ = e.store.Park(sessionID, outcome.Parked)
		return
	}
	_ = e.store.EndTurn(sessionID)
}

// CancelTurn aborts sessionID's running turn.
func (e *Engine) CancelTurn(sessionID string) error {
	return e.runner.Cancel(sessionID)
}

// CloseSession evicts a session from the store and drops every attached
// subscriber.
func (e *Engine) CloseSession(sessionID string) error {
	if err := e.store.Close(sessionID); err != nil {
		return err
	}

	e.mu.Lock()
	rt, ok := e.runtimes[sessionID]
	delete(e.runtimes, sessionID)
	e.mu.Unlock()
	if ok {
		_ = rt.sink.Close()
	}
	e.broadcaster.DetachAllForSession(sessionID)
	return nil
}

// ReapExpired closes every idle session past the Session Store's
// IdleTTL and aborts every parked turn past its ParkTTL, emitting
// Error{approval_timeout} on each aborted turn's session before
// discarding it (spec §3's idle-session timeout, spec §4.4's
// park_ttl approval-timeout abort). Intended to be called periodically
// by a reaper loop in cmd/agentcored; a single call does one pass.
func (e *Engine) ReapExpired(ctx context.Context) {
	for _, parked := range e.store.ReapParked() {
		if rt, ok := e.runtimeFor(parked.SessionID); ok {
			ev := core.Event{
				SessionID: parked.SessionID,
				TurnID:    parked.TurnID,
				Type:      core.EventError,
				Time:      time.Now(),
				Code:      core.ErrCodeApprovalTimeout,
				Message:   "approval timeout",
			}
			_ = rt.emitter.Emit(ctx, ev)
		}
	}

	for _, sessionID := range e.store.ReapIdle() {
		e.mu.Lock()
		rt, ok := e.runtimes[sessionID]
		delete(e.runtimes, sessionID)
		e.mu.Unlock()
		if ok {
			_ = rt.sink.Close()
		}
		e.broadcaster.DetachAllForSession(sessionID)
	}
}

// Parked reports whether sessionID currently has a parked turn, without
// consuming it, for turn_id validation ahead of a ResumeTurn request.
func (e *Engine) Parked(sessionID string) (*turn.ParkedTurn, bool) {
	return e.store.Parked(sessionID)
}

// Idle reports whether sessionID has neither a running nor a parked
// turn right now, by attempting (and immediately releasing) the active
// slot the Session Store enforces at most one of per session. Exported
// for transports and tests to poll turn completion without reaching
// into the store directly.
func (e *Engine) Idle(sessionID string) bool {
	if _, parked := e.store.Parked(sessionID); parked {
		return false
	}
	if err := e.store.BeginTurn(sessionID); err != nil {
		return false
	}
	_ = e.store.EndTurn(sessionID)
	return true
}
