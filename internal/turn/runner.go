// Package turn implements the Turn Runner and Turn State Machine (spec
// §4.3, §4.4): the agent loop driving one model-and-tools conversation
// turn through Prepare, Completion, Dispatch, Iterate, and Cap, with a
// Yield/Resume protocol for Ask decisions that suspends a turn without
// blocking an OS thread — a parked turn is a stored continuation
// (ParkedTurn), not a blocked goroutine.
//
// Grounded on the teacher's internal/agent/loop.go state machine and
// internal/agent/executor.go's per-call timeout/cancellation handling,
// generalized from the teacher's fixed Anthropic-style provider call to
// the Backend interface and from the teacher's in-process ToolRegistry to
// this module's tools.Registry + policy.Decide.
package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/internal/policy"
	"github.com/agentcore/agentcore/internal/tools"
	"github.com/agentcore/agentcore/pkg/core"
)

// shellTools get ShellTimeout instead of ToolTimeout (spec §4.3: "shell
// defaults to 600s").
var shellTools = map[string]bool{"Bash": true}

// steeringBuffer bounds how many steering messages may queue against one
// running turn before Steer starts rejecting new ones.
const steeringBuffer = 8

type activeTurn struct {
	cancel context.CancelFunc
	steer  chan core.Message
}

// Runner executes turns for any number of sessions concurrently; each
// session may have at most one active turn at a time (spec §4.5, §8
// property 3), enforced here via the active map.
type Runner struct {
	registry *tools.Registry
	backend  Backend
	tracker  *policy.AutoApprovalTracker
	cfg      Config

	mu     sync.Mutex
	active map[string]*activeTurn
}

// NewRunner builds a Runner. tracker may be nil to disable the
// approval-rate-limit supplement.
func NewRunner(registry *tools.Registry, backend Backend, cfg Config, tracker *policy.AutoApprovalTracker) *Runner {
	return &Runner{
		registry: registry,
		backend:  backend,
		tracker:  tracker,
		cfg:      cfg,
		active:   make(map[string]*activeTurn),
	}
}

func (r *Runner) begin(sessionID string) (context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[sessionID]; busy {
		return nil, ErrBusy
	}
	r.active[sessionID] = &activeTurn{steer: make(chan core.Message, steeringBuffer)}
	return func() { r.end(sessionID) }, nil
}

func (r *Runner) end(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sessionID)
}

func (r *Runner) setCancel(sessionID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.active[sessionID]; ok {
		t.cancel = cancel
	}
}

// Cancel transitions sessionID's running turn to Cancelled (spec §4.4
// "Cancellation"). It is a no-op if the session has no running turn
// (e.g. it is parked, or already finished).
func (r *Runner) Cancel(sessionID string) error {
	r.mu.Lock()
	t, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok || t.cancel == nil {
		return ErrNotRunning
	}
	t.cancel()
	return nil
}

// Steer injects a message into a currently running turn, delivered just
// before the turn's next Completion call (SPEC_FULL.md §3's "steering
// messages mid-turn" supplement, grounded on the teacher's
// internal/agent/steering.go). It is internal-only: no client-facing
// message names it directly, matching the Turn State Machine's existing
// resolution that a second SendPrompt while Running returns Error{busy}.
func (r *Runner) Steer(sessionID string, msg core.Message) error {
	r.mu.Lock()
	t, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	select {
	case t.steer <- msg:
		return nil
	default:
		return fmt.Errorf("turn: steering queue full for session %s", sessionID)
	}
}

// drainSteering returns every steering message queued so far, without
// blocking.
func (r *Runner) drainSteering(sessionID string) []core.Message {
	r.mu.Lock()
	t, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	var out []core.Message
	for {
		select {
		case msg := <-t.steer:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// StartTurn runs Prepare, then the Completion/Dispatch/Iterate/Cap loop,
// until the turn reaches a terminal status or Parks.
func (r *Runner) StartTurn(ctx context.Context, sess *core.Session, turnID string, userMsg core.Message, emitter EventSink) (Outcome, error) {
	end, err := r.begin(sess.ID)
	if err != nil {
		return Outcome{}, err
	}

	// Prepare: append the user message to history.
	sess.History = append(sess.History, userMsg)
	messages := append([]core.Message(nil), sess.History...)

	outcome, resultErr := r.runLoop(ctx, sess, turnID, messages, 0, emitter)
	if outcome.Status != StatusParked {
		end()
	}
	return outcome, resultErr
}

// Resume continues a parked turn after a ResumeTurn decision (spec §4.4).
func (r *Runner) Resume(ctx context.Context, sess *core.Session, parked *ParkedTurn, turnID string, decision ResumeDecision, emitter EventSink) (Outcome, error) {
	if turnID != parked.TurnID {
		return Outcome{}, ErrStaleResume
	}
	if _, err := r.begin(sess.ID); err != nil {
		return Outcome{}, err
	}
	resumeCtx, cancel := context.WithCancel(ctx)
	r.setCancel(sess.ID, cancel)

	pendingCall := parked.ToolCalls[parked.Pending]
	var result core.ToolResult
	if decision.Approved {
		result = r.invoke(resumeCtx, sess, pendingCall)
	} else {
		result = core.ToolResult{CallID: pendingCall.ID, OK: false, Content: "denied by user"}
	}
	if err := emitter.Emit(ctx, toolResultEvent(sess.ID, turnID, result)); err != nil {
		cancel()
		r.end(sess.ID)
		return Outcome{Status: StatusErrored}, err
	}

	prior := append(append([]core.ToolResult(nil), parked.Results...), result)
	dispatchOutcome, results, err := r.dispatch(resumeCtx, ctx, sess, turnID, parked.ToolCalls, parked.Pending+1, prior, emitter)
	cancel()
	if err != nil || dispatchOutcome.Status != StatusRunning {
		if dispatchOutcome.Status != StatusParked {
			r.end(sess.ID)
		}
		return dispatchOutcome, err
	}

	messages := append(parked.Messages, toolResultMessages(results)...)
	outcome, resultErr := r.runLoop(ctx, sess, turnID, messages, parked.Iteration+1, emitter)
	if outcome.Status != StatusParked {
		r.end(sess.ID)
	}
	return outcome, resultErr
}

// runLoop is the Completion → Dispatch → Iterate → Cap cycle shared by
// StartTurn and the continuation after Resume. One cancellable context
// covers the whole call so that Cancel reaches an in-flight Completion or
// an in-flight Dispatch alike.
func (r *Runner) runLoop(ctx context.Context, sess *core.Session, turnID string, messages []core.Message, iteration int, emitter EventSink) (Outcome, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.setCancel(sess.ID, cancel)

	for {
		if r.cfg.MaxIterations > 0 && iteration >= r.cfg.MaxIterations {
			// Cap (spec §4.3 step 5).
			sess.History = messages
			if err := emitter.Emit(ctx, doneEvent(sess.ID, turnID, "iteration_cap", core.Usage{})); err != nil {
				return Outcome{Status: StatusErrored}, err
			}
			return Outcome{Status: StatusCompleted}, nil
		}

		if steered := r.drainSteering(sess.ID); len(steered) > 0 {
			messages = append(messages, steered...)
		}

		assistantMsg, usage, err := r.complete(turnCtx, sess, turnID, messages, emitter)
		if err != nil {
			if turnCtx.Err() != nil {
				_ = emitter.Emit(ctx, errorEvent(sess.ID, turnID, core.ErrCodeCancelled, "cancelled"))
				return Outcome{Status: StatusCancelled}, context.Canceled
			}
			_ = emitter.Emit(ctx, errorEvent(sess.ID, turnID, core.ErrCodeBackend, err.Error()))
			return Outcome{Status: StatusErrored}, err
		}

		messages = append(messages, assistantMsg)

		if len(assistantMsg.ToolCalls) == 0 {
			sess.History = messages
			if err := emitter.Emit(ctx, contentEvent(sess.ID, turnID, assistantMsg.Text)); err != nil {
				return Outcome{Status: StatusErrored}, err
			}
			if err := emitter.Emit(ctx, doneEvent(sess.ID, turnID, "complete", usage)); err != nil {
				return Outcome{Status: StatusErrored}, err
			}
			return Outcome{Status: StatusCompleted}, nil
		}

		calls := dedupeCallIDs(assistantMsg.ToolCalls)

		dispatchOutcome, results, err := r.dispatch(turnCtx, ctx, sess, turnID, calls, 0, nil, emitter)
		if err != nil {
			return dispatchOutcome, err
		}
		if dispatchOutcome.Status == StatusParked {
			dispatchOutcome.Parked.Messages = messages
			dispatchOutcome.Parked.System = sess.Persona
			dispatchOutcome.Parked.Iteration = iteration
			return dispatchOutcome, nil
		}
		if dispatchOutcome.Status == StatusCancelled {
			return dispatchOutcome, context.Canceled
		}

		messages = append(messages, toolResultMessages(results)...)
		sess.History = messages
		iteration++
	}
}

// complete drives one Completion phase (spec §4.3 step 2), streaming
// Thinking events and returning the closed assistant message.
func (r *Runner) complete(ctx context.Context, sess *core.Session, turnID string, messages []core.Message, emitter EventSink) (core.Message, core.Usage, error) {
	req := CompletionRequest{Model: sess.Target, System: sess.Persona, Messages: messages, Tools: schemasOf(r.registry)}
	chunks, err := r.backend.Complete(ctx, req)
	if err != nil {
		return core.Message{}, core.Usage{}, err
	}

	var assistant core.Message
	var usage core.Usage
	for chunk := range chunks {
		if !chunk.Done {
			if chunk.TextDelta == "" {
				continue
			}
			if err := emitter.Emit(ctx, thinkingEvent(sess.ID, turnID, chunk.TextDelta)); err != nil {
				return core.Message{}, core.Usage{}, err
			}
			continue
		}
		assistant = chunk.Message
		usage = chunk.Usage
	}
	return assistant, usage, nil
}

// dispatch runs the Dispatch phase (spec §4.3 step 3) over calls[from:],
// given any results already computed earlier in the same batch (prior).
// It returns Outcome{Running} with the full accumulated results when the
// batch completes, Outcome{Parked} when an Ask is hit, or Outcome{Cancelled}
// when the turn's context is done.
//
// emitCtx is the outer, still-live context (runLoop's ctx, or Resume's
// ctx), distinct from ctx which is the turn-scoped context that is itself
// cancelled the moment Cancel is called. The terminal Error{cancelled}
// event must go out on emitCtx: emitting it on the already-cancelled ctx
// risks sink.Append's db.ExecContext short-circuiting on a dead context,
// silently dropping the one event that tells the transcript and any live
// subscriber the turn actually stopped.
func (r *Runner) dispatch(ctx, emitCtx context.Context, sess *core.Session, turnID string, calls []core.ToolCall, from int, prior []core.ToolResult, emitter EventSink) (Outcome, []core.ToolResult, error) {
	results := append([]core.ToolResult(nil), prior...)

	for i := from; i < len(calls); i++ {
		select {
		case <-ctx.Done():
			_ = emitter.Emit(emitCtx, errorEvent(sess.ID, turnID, core.ErrCodeCancelled, "cancelled"))
			return Outcome{Status: StatusCancelled}, results, ctx.Err()
		default:
		}

		call := calls[i]
		if err := emitter.Emit(ctx, toolCallEvent(sess.ID, turnID, call)); err != nil {
			return Outcome{Status: StatusErrored}, results, err
		}

		tool, ok := r.registry.Get(call.Name)
		if !ok {
			result := core.ToolResult{CallID: call.ID, OK: false, Content: "unknown tool"}
			results = append(results, result)
			if err := emitter.Emit(ctx, toolResultEvent(sess.ID, turnID, result)); err != nil {
				return Outcome{Status: StatusErrored}, results, err
			}
			continue
		}
		if err := r.registry.Validate(call.Name, call.Arguments); err != nil {
			result := core.ToolResult{CallID: call.ID, OK: false, Content: err.Error()}
			results = append(results, result)
			if err := emitter.Emit(ctx, toolResultEvent(sess.ID, turnID, result)); err != nil {
				return Outcome{Status: StatusErrored}, results, err
			}
			continue
		}

		decision := policy.Decide(call.Name, call.Arguments, sess.Mode, sess.Rules, sess.ProjectDir)
		observability.EmitPolicyDecision(&observability.PolicyDecisionEvent{
			SessionID: sess.ID,
			ToolName:  call.Name,
			Effect:    string(decision.Effect),
			Source:    decision.Reason,
		})
		switch decision.Effect {
		case core.Deny:
			result := core.ToolResult{CallID: call.ID, OK: false, Content: fmt.Sprintf("denied: %s", decision.Reason)}
			results = append(results, result)
			observability.EmitToolCall(&observability.ToolCallEvent{
				SessionID: sess.ID, TurnID: turnID, ToolName: call.Name, Outcome: "denied",
			})
			if err := emitter.Emit(ctx, toolResultEvent(sess.ID, turnID, result)); err != nil {
				return Outcome{Status: StatusErrored}, results, err
			}
		case core.Ask:
			if err := emitter.Emit(ctx, yieldEvent(sess.ID, turnID, call, decision.Reason)); err != nil {
				return Outcome{Status: StatusErrored}, results, err
			}
			return Outcome{Status: StatusParked, Parked: &ParkedTurn{
				SessionID: sess.ID,
				TurnID:    turnID,
				ToolCalls: calls,
				Results:   results,
				Pending:   i,
				ParkedAt:  time.Now(),
			}}, results, nil
		default: // Allow
			result := r.invoke(ctx, sess, call)
			results = append(results, result)
			outcome := "success"
			if !result.OK {
				outcome = "error"
			}
			observability.EmitToolCall(&observability.ToolCallEvent{
				SessionID: sess.ID, TurnID: turnID, ToolName: call.Name,
				DurationMs: result.DurationMS, Outcome: outcome, Error: errorContentIfFailed(result),
			})
			if err := emitter.Emit(ctx, toolResultEvent(sess.ID, turnID, result)); err != nil {
				return Outcome{Status: StatusErrored}, results, err
			}
		}
	}
	return Outcome{Status: StatusRunning}, results, nil
}

// errorContentIfFailed returns a failed tool result's content for the
// diagnostic event's Error field, empty otherwise.
func errorContentIfFailed(result core.ToolResult) string {
	if result.OK {
		return ""
	}
	return result.Content
}

// invoke executes one Allow'd (or Resume-approved) tool call, bounded by
// its per-tool deadline and the turn's cancellation signal.
func (r *Runner) invoke(ctx context.Context, sess *core.Session, call core.ToolCall) core.ToolResult {
	tool, ok := r.registry.Get(call.Name)
	if !ok {
		return core.ToolResult{CallID: call.ID, OK: false, Content: "unknown tool"}
	}

	timeout := r.cfg.ToolTimeout
	if shellTools[call.Name] {
		timeout = r.cfg.ShellTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := tool.Execute(tools.ExecContext{ProjectRoot: sess.ProjectDir, Context: execCtx}, call.Arguments)
	duration := time.Since(start)
	if err != nil {
		return core.ToolResult{CallID: call.ID, OK: false, Content: err.Error(), DurationMS: duration.Milliseconds()}
	}
	return core.ToolResult{CallID: call.ID, OK: true, Content: res.Content, Structured: res.Structured, DurationMS: duration.Milliseconds()}
}

func schemasOf(registry *tools.Registry) []ToolSchema {
	names := registry.Names()
	out := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		tool, ok := registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, ToolSchema{Name: name, Schema: tool.Schema()})
	}
	return out
}

func toolResultMessages(results []core.ToolResult) []core.Message {
	out := make([]core.Message, 0, len(results))
	for _, res := range results {
		out = append(out, core.ToolResultMessage(res))
	}
	return out
}

// dedupeCallIDs renames any repeated call id within one assistant message
// so tool results keep a 1:1 relationship with their call (spec §4.3:
// "same call_id appears twice... rename the second to ensure uniqueness").
func dedupeCallIDs(calls []core.ToolCall) []core.ToolCall {
	seen := make(map[string]int, len(calls))
	out := make([]core.ToolCall, len(calls))
	copy(out, calls)
	for i, c := range out {
		seen[c.ID]++
		if seen[c.ID] > 1 {
			out[i].ID = fmt.Sprintf("%s#%d", c.ID, seen[c.ID])
		}
	}
	return out
}
