package turn

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/agentcore/agentcore/internal/tools"
	"github.com/agentcore/agentcore/pkg/core"
)

// memSink is a minimal EventSink for tests: it just appends every event it
// sees, in order.
type memSink struct {
	mu     sync.Mutex
	events []core.Event
}

func (s *memSink) Emit(ctx context.Context, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) typesOf() []core.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

// scriptedBackend returns one pre-built assistant message per call,
// consumed in order; it never streams partial text.
type scriptedBackend struct {
	mu    sync.Mutex
	turns []core.Message
	i     int
}

func (b *scriptedBackend) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.i >= len(b.turns) {
		b.i = len(b.turns) - 1
	}
	msg := b.turns[b.i]
	b.i++
	ch := make(chan CompletionChunk, 1)
	ch <- CompletionChunk{Done: true, Message: msg}
	close(ch)
	return ch, nil
}

// echoTool returns its "text" argument as content, always OK.
type echoTool struct{}

func (echoTool) Name() string     { return "Echo" }
func (echoTool) ReadOnly() bool   { return true }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (echoTool) Execute(ectx tools.ExecContext, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &in)
	return tools.Result{Content: in.Text}, nil
}

func newTestSession() *core.Session {
	return &core.Session{
		ID:         "sess-1",
		ProjectDir: "/tmp",
		Mode:       core.ModeBypassPermissions,
		CreatedAt:  time.Now(),
	}
}

func TestStartTurnCompletesWithoutTools(t *testing.T) {
	registry := tools.NewRegistry()
	backend := &scriptedBackend{turns: []core.Message{core.AssistantMessage("hello there")}}
	runner := NewRunner(registry, backend, DefaultConfig(), nil)
	sink := &memSink{}

	outcome, err := runner.StartTurn(context.Background(), newTestSession(), "turn-1", core.UserMessage("hi"), sink)
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("status: want %s, got %s", StatusCompleted, outcome.Status)
	}
	types := sink.typesOf()
	if len(types) < 2 || types[len(types)-1] != core.EventDone || types[len(types)-2] != core.EventContent {
		t.Fatalf("expected Content then Done at the end, got %v", types)
	}
}

func TestStartTurnDispatchesAllowedTool(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	call := core.ToolCall{ID: "c1", Name: "Echo", Arguments: json.RawMessage(`{"text":"ping"}`)}
	backend := &scriptedBackend{turns: []core.Message{
		core.AssistantMessage("", call),
		core.AssistantMessage("done"),
	}}
	runner := NewRunner(registry, backend, DefaultConfig(), nil)
	sink := &memSink{}

	sess := newTestSession() // ModeBypassPermissions -> Allow
	outcome, err := runner.StartTurn(context.Background(), sess, "turn-1", core.UserMessage("hi"), sink)
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("status: want %s, got %s", StatusCompleted, outcome.Status)
	}

	var sawToolCall, sawToolResult bool
	for _, ev := range sink.events {
		if ev.Type == core.EventToolCall && ev.CallID == "c1" {
			sawToolCall = true
		}
		if ev.Type == core.EventToolResult && ev.CallID == "c1" {
			sawToolResult = true
			if !ev.OK || ev.Content != "ping" {
				t.Fatalf("unexpected tool result: %+v", ev)
			}
		}
	}
	if !sawToolCall || !sawToolResult {
		t.Fatalf("expected ToolCall and ToolResult events, got %v", sink.typesOf())
	}
}

func TestAskParksThenResumeCompletes(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	call := core.ToolCall{ID: "c1", Name: "Echo", Arguments: json.RawMessage(`{"text":"ping"}`)}
	backend := &scriptedBackend{turns: []core.Message{
		core.AssistantMessage("", call),
		core.AssistantMessage("done"),
	}}
	runner := NewRunner(registry, backend, DefaultConfig(), nil)
	sink := &memSink{}

	sess := newTestSession()
	sess.Mode = core.ModeDefault // Echo is not read-only-listed -> Ask

	outcome, err := runner.StartTurn(context.Background(), sess, "turn-1", core.UserMessage("hi"), sink)
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if outcome.Status != StatusParked {
		t.Fatalf("status: want %s, got %s", StatusParked, outcome.Status)
	}
	if outcome.Parked == nil || outcome.Parked.ToolCalls[outcome.Parked.Pending].ID != "c1" {
		t.Fatalf("unexpected parked turn: %+v", outcome.Parked)
	}

	resumed, err := runner.Resume(context.Background(), sess, outcome.Parked, "turn-1", ResumeDecision{Approved: true}, sink)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusCompleted {
		t.Fatalf("resumed status: want %s, got %s", StatusCompleted, resumed.Status)
	}
}

func TestAskParkedThenResumeDenied(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	call := core.ToolCall{ID: "c1", Name: "Echo", Arguments: json.RawMessage(`{"text":"ping"}`)}
	backend := &scriptedBackend{turns: []core.Message{
		core.AssistantMessage("", call),
		core.AssistantMessage("done"),
	}}
	runner := NewRunner(registry, backend, DefaultConfig(), nil)
	sink := &memSink{}

	sess := newTestSession()
	sess.Mode = core.ModeDefault

	outcome, err := runner.StartTurn(context.Background(), sess, "turn-1", core.UserMessage("hi"), sink)
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	resumed, err := runner.Resume(context.Background(), sess, outcome.Parked, "turn-1", ResumeDecision{Approved: false}, sink)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusCompleted {
		t.Fatalf("resumed status: want %s, got %s", StatusCompleted, resumed.Status)
	}
	for _, ev := range sink.events {
		if ev.Type == core.EventToolResult && ev.CallID == "c1" {
			if ev.OK || ev.Content != "denied by user" {
				t.Fatalf("expected denied result, got %+v", ev)
			}
		}
	}
}

func TestResumeRejectsStaleTurnID(t *testing.T) {
	registry := tools.NewRegistry()
	runner := NewRunner(registry, &scriptedBackend{}, DefaultConfig(), nil)
	parked := &ParkedTurn{SessionID: "sess-1", TurnID: "turn-1"}
	_, err := runner.Resume(context.Background(), newTestSession(), parked, "turn-2", ResumeDecision{Approved: true}, &memSink{})
	if err != ErrStaleResume {
		t.Fatalf("want ErrStaleResume, got %v", err)
	}
}

func TestDenyToolNeverExecutes(t *testing.T) {
	registry := tools.NewRegistry()
	calls := 0
	counting := countingTool{onExecute: func() { calls++ }}
	if err := registry.Register(counting); err != nil {
		t.Fatalf("Register: %v", err)
	}
	call := core.ToolCall{ID: "c1", Name: "Counting", Arguments: json.RawMessage(`{}`)}
	backend := &scriptedBackend{turns: []core.Message{
		core.AssistantMessage("", call),
		core.AssistantMessage("done"),
	}}

	sess := newTestSession()
	sess.Mode = core.ModeDefault
	sess.Rules = core.RuleSet{Rules: []core.Rule{{
		Effect:  core.Deny,
		Pattern: core.ToolPattern{ToolName: "Counting", Kind: core.MatchAny},
		Source:  "rules.yaml:1",
	}}}

	runner := NewRunner(registry, backend, DefaultConfig(), nil)
	outcome, err := runner.StartTurn(context.Background(), sess, "turn-1", core.UserMessage("hi"), &memSink{})
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("status: want %s, got %s", StatusCompleted, outcome.Status)
	}
	if calls != 0 {
		t.Fatalf("denied tool executed %d times, want 0", calls)
	}
}

type countingTool struct {
	onExecute func()
}

func (countingTool) Name() string     { return "Counting" }
func (countingTool) ReadOnly() bool   { return false }
func (countingTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (c countingTool) Execute(ectx tools.ExecContext, args json.RawMessage) (tools.Result, error) {
	c.onExecute()
	return tools.Result{Content: "ran"}, nil
}

func TestIterationCapEmitsDone(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	call := core.ToolCall{ID: "c1", Name: "Echo", Arguments: json.RawMessage(`{"text":"x"}`)}
	// Every round produces another tool call, so the loop never naturally
	// terminates and must hit the iteration cap.
	turns := make([]core.Message, 0, 5)
	for i := 0; i < 5; i++ {
		turns = append(turns, core.AssistantMessage("", call))
	}
	backend := &scriptedBackend{turns: turns}
	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	runner := NewRunner(registry, backend, cfg, nil)
	sink := &memSink{}

	sess := newTestSession()
	outcome, err := runner.StartTurn(context.Background(), sess, "turn-1", core.UserMessage("hi"), sink)
	if err != nil {
		t.Fatalf("StartTurn: %v", err)
	}
	if outcome.Status != StatusCompleted {
		t.Fatalf("status: want %s, got %s", StatusCompleted, outcome.Status)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != core.EventDone || last.DoneReason != "iteration_cap" {
		t.Fatalf("expected final Done{iteration_cap}, got %+v", last)
	}
}

// ctxAwareSink mimics a persistence-backed EventSink (e.g. broadcastSink
// over database/sql): it refuses to record an event once its context is
// already cancelled, the same way db.ExecContext(ctx, ...) typically
// short-circuits on a dead context before ever touching the database.
type ctxAwareSink struct {
	mu     sync.Mutex
	events []core.Event
}

func (s *ctxAwareSink) Emit(ctx context.Context, ev core.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// slowTool blocks until its context is cancelled, signaling onStart once
// so a test can trigger that cancellation from the outside.
type slowTool struct {
	onStart chan struct{}
}

func (t *slowTool) Name() string   { return "Slow" }
func (t *slowTool) ReadOnly() bool { return true }
func (t *slowTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (t *slowTool) Execute(ectx tools.ExecContext, args json.RawMessage) (tools.Result, error) {
	select {
	case t.onStart <- struct{}{}:
	default:
	}
	<-ectx.Context.Done()
	return tools.Result{}, ectx.Context.Err()
}

// TestCancelEmitsTerminalEventOnLiveContext is scenario S6 / property 7:
// cancelling a turn mid-dispatch must still deliver a terminal
// Error{cancelled} event to the sink, even though the turn's own context
// is by then cancelled. Regression test for dispatch emitting that event
// on the dead turn context instead of the still-live outer one.
func TestCancelEmitsTerminalEventOnLiveContext(t *testing.T) {
	registry := tools.NewRegistry()
	tool := &slowTool{onStart: make(chan struct{}, 1)}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	calls := []core.ToolCall{
		{ID: "c1", Name: "Slow", Arguments: json.RawMessage(`{}`)},
		{ID: "c2", Name: "Slow", Arguments: json.RawMessage(`{}`)},
	}
	backend := &scriptedBackend{turns: []core.Message{core.AssistantMessage("", calls...)}}
	runner := NewRunner(registry, backend, DefaultConfig(), nil)
	sink := &ctxAwareSink{}
	sess := newTestSession() // ModeBypassPermissions -> Allow

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := runner.StartTurn(context.Background(), sess, "turn-1", core.UserMessage("hi"), sink)
		done <- result{outcome, err}
	}()

	select {
	case <-tool.onStart:
	case <-time.After(5 * time.Second):
		t.Fatal("slow tool never started")
	}
	if err := runner.Cancel(sess.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StartTurn never returned after Cancel")
	}

	if res.outcome.Status != StatusCancelled {
		t.Fatalf("status: want %s, got %s", StatusCancelled, res.outcome.Status)
	}
	if res.err != context.Canceled {
		t.Fatalf("err: want context.Canceled, got %v", res.err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) == 0 {
		t.Fatal("no terminal event recorded; cancelled event was dropped")
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != core.EventError || last.Code != core.ErrCodeCancelled {
		t.Fatalf("expected terminal Error{cancelled}, got %+v", last)
	}
}

func TestDedupeCallIDs(t *testing.T) {
	calls := []core.ToolCall{{ID: "a"}, {ID: "a"}, {ID: "a"}}
	out := dedupeCallIDs(calls)
	ids := map[string]bool{}
	for _, c := range out {
		if ids[c.ID] {
			t.Fatalf("duplicate id %s after dedupe: %v", c.ID, out)
		}
		ids[c.ID] = true
	}
}
