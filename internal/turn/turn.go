package turn

import (
	"errors"
	"time"

	"github.com/agentcore/agentcore/pkg/core"
)

// Status is a state of the Turn State Machine (spec §4.4): Running →
// Parked → Running | Aborted, plus terminal Completed | Errored |
// Cancelled.
type Status string

const (
	StatusRunning   Status = "running"
	StatusParked    Status = "parked"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
	StatusAborted   Status = "aborted"
)

// Config bounds one turn's execution, all overridable per spec §6's
// configuration surface.
type Config struct {
	MaxIterations  int           // max_turns, default 12
	ToolTimeout    time.Duration // tool_timeout_ms, default 120s
	ShellTimeout   time.Duration // shell_timeout_ms, default 600s
	ParkTTL        time.Duration // park_ttl_ms, default 15m
	MaxAutoApprove int           // approval rate-limit per session, 0 = unlimited
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 12,
		ToolTimeout:   120 * time.Second,
		ShellTimeout:  600 * time.Second,
		ParkTTL:       15 * time.Minute,
	}
}

var (
	// ErrStaleResume is returned when a ResumeTurn's turn_id does not match
	// the session's currently parked turn (spec §4.4).
	ErrStaleResume = errors.New("turn: stale resume")
	// ErrBusy is returned when a turn is requested on a session that
	// already has an active or parked turn (spec §4.5, §9).
	ErrBusy = errors.New("turn: session busy")
	// ErrNotParked is returned when Resume is called but no turn is parked.
	ErrNotParked = errors.New("turn: no parked turn")
	// ErrNotRunning is returned when Steer or Cancel target a turn that
	// isn't currently running.
	ErrNotRunning = errors.New("turn: no running turn")
)

// Outcome is what StartTurn/Resume return once a turn stops advancing:
// either it reached a terminal status, or it Parked and produced a
// continuation the caller (Session Store) must hold until ResumeTurn.
type Outcome struct {
	Status Status
	Parked *ParkedTurn // set iff Status == StatusParked
}

// ParkedTurn is the stored continuation captured at the moment a tool call
// receives Ask (spec §4.4 step 2): the pending call, any results already
// computed earlier in the same dispatch batch, and everything needed to
// resume the dispatch loop without replaying the model call.
type ParkedTurn struct {
	SessionID string
	TurnID    string

	Messages  []core.Message // history as of Prepare, before this round's assistant message
	System    string
	ToolCalls []core.ToolCall // the full batch the model emitted this round
	Results   []core.ToolResult // results for ToolCalls[:PendingIndex], in order
	Pending   int               // index into ToolCalls of the call awaiting a decision
	Iteration int

	ParkedAt time.Time
}

// ResumeDecision answers a ResumeTurn request (spec §4.4).
type ResumeDecision struct {
	Approved bool
	// Remember, if non-empty ("session" or "always"), tells the caller
	// (Session Store / config layer) to persist an allow rule for this
	// tool pattern beyond this one decision. The runner itself does not
	// interpret it; it only continues dispatch as if the decision had
	// been Allow or a user denial.
	Remember string
}
