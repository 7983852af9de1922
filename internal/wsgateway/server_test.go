package wsgateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/agentcore/agentcore/internal/agentd"
	"github.com/agentcore/agentcore/internal/sessionstore"
	"github.com/agentcore/agentcore/internal/tools"
	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

// scriptedBackend returns one pre-built assistant message per call,
// consumed in order; mirrors internal/turn's own test double since no
// real model call should run in these tests.
type scriptedBackend struct {
	mu    sync.Mutex
	turns []core.Message
	i     int
}

func (b *scriptedBackend) Complete(ctx context.Context, req turn.CompletionRequest) (<-chan turn.CompletionChunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := b.turns[b.i]
	if b.i < len(b.turns)-1 {
		b.i++
	}
	ch := make(chan turn.CompletionChunk, 1)
	ch <- turn.CompletionChunk{Done: true, Message: msg}
	close(ch)
	return ch, nil
}

// askTool always yields Ask so tests can exercise the park/resume path
// through the gateway's ResumeTurn operation.
type askTool struct{}

func (askTool) Name() string            { return "Deploy" }
func (askTool) ReadOnly() bool          { return false }
func (askTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (askTool) Execute(tools.ExecContext, json.RawMessage) (tools.Result, error) {
	return tools.Result{Content: "deployed"}, nil
}

func newTestServer(t *testing.T, backend turn.Backend) *Server {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(askTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	runner := turn.NewRunner(registry, backend, turn.DefaultConfig(), nil)
	store := sessionstore.New(sessionstore.DefaultConfig())
	engine := agentd.NewEngine(store, runner, t.TempDir())
	return NewServer(engine, NewAuthenticator("", "", 0))
}

// newTestClient builds a bare Client for exercising attach/detach and
// Deliver without a real websocket connection underneath.
func newTestClient() *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{send: make(chan []byte, clientBuffer), ctx: ctx, cancel: cancel}
}

func openTestSession(t *testing.T, s *Server) string {
	t.Helper()
	params, _ := json.Marshal(openSessionParams{
		ProjectDir: "/tmp/project",
		Target:     "claude-test@anthropic",
		Mode:       string(core.ModeBypassPermissions),
	})
	payload, ferr := s.openSession(params)
	if ferr != nil {
		t.Fatalf("openSession: %v", ferr)
	}
	return payload.(openSessionResult).SessionID
}

func TestOpenSessionThenSendPromptCompletes(t *testing.T) {
	backend := &scriptedBackend{turns: []core.Message{core.AssistantMessage("hello there")}}
	s := newTestServer(t, backend)
	sessID := openTestSession(t, s)

	params, _ := json.Marshal(sendPromptParams{SessionID: sessID, Text: "hi"})
	payload, ferr := s.sendPrompt(params)
	if ferr != nil {
		t.Fatalf("sendPrompt: %v", ferr)
	}
	turnID := payload.(sendPromptResult).TurnID
	if turnID == "" {
		t.Fatal("want a non-empty turn_id")
	}

	waitForEndTurn(t, s, sessID)
}

func TestSendPromptRejectsSecondConcurrentTurn(t *testing.T) {
	backend := &scriptedBackend{turns: []core.Message{core.AssistantMessage("ok")}}
	s := newTestServer(t, backend)
	sessID := openTestSession(t, s)

	params, _ := json.Marshal(sendPromptParams{SessionID: sessID, Text: "first"})
	if _, ferr := s.sendPrompt(params); ferr != nil {
		t.Fatalf("first sendPrompt: %v", ferr)
	}
	if _, ferr := s.sendPrompt(params); ferr == nil {
		t.Fatal("want busy error for a second concurrent SendPrompt")
	}
}

func TestResumeTurnAfterPark(t *testing.T) {
	backend := &scriptedBackend{turns: []core.Message{
		core.AssistantMessage("", core.ToolCall{ID: "call-1", Name: "Deploy", Arguments: json.RawMessage(`{}`)}),
		core.AssistantMessage("done"),
	}}
	s := newTestServer(t, backend)
	// ModeDefault so Deploy (a write tool) triggers Ask instead of Allow.
	params, _ := json.Marshal(openSessionParams{ProjectDir: "/tmp/project", Target: "claude-test@anthropic"})
	payload, ferr := s.openSession(params)
	if ferr != nil {
		t.Fatalf("openSession: %v", ferr)
	}
	sessID := payload.(openSessionResult).SessionID

	sp, _ := json.Marshal(sendPromptParams{SessionID: sessID, Text: "deploy it"})
	spPayload, ferr := s.sendPrompt(sp)
	if ferr != nil {
		t.Fatalf("sendPrompt: %v", ferr)
	}
	turnID := spPayload.(sendPromptResult).TurnID

	waitForParked(t, s, sessID)

	rp, _ := json.Marshal(resumeTurnParams{SessionID: sessID, TurnID: turnID, Approved: true})
	if _, ferr := s.resumeTurn(rp); ferr != nil {
		t.Fatalf("resumeTurn: %v", ferr)
	}

	waitForEndTurn(t, s, sessID)
}

func TestResumeTurnRejectsStaleTurnID(t *testing.T) {
	backend := &scriptedBackend{turns: []core.Message{
		core.AssistantMessage("", core.ToolCall{ID: "call-1", Name: "Deploy", Arguments: json.RawMessage(`{}`)}),
	}}
	s := newTestServer(t, backend)
	params, _ := json.Marshal(openSessionParams{ProjectDir: "/tmp/project", Target: "claude-test@anthropic"})
	payload, _ := s.openSession(params)
	sessID := payload.(openSessionResult).SessionID

	sp, _ := json.Marshal(sendPromptParams{SessionID: sessID, Text: "deploy it"})
	if _, ferr := s.sendPrompt(sp); ferr != nil {
		t.Fatalf("sendPrompt: %v", ferr)
	}
	waitForParked(t, s, sessID)

	rp, _ := json.Marshal(resumeTurnParams{SessionID: sessID, TurnID: "not-the-real-turn", Approved: true})
	if _, ferr := s.resumeTurn(rp); ferr == nil {
		t.Fatal("want an error for a stale turn_id")
	}

	// The real park slot must still be usable afterwards.
	if _, ok := s.engine.Parked(sessID); !ok {
		t.Fatal("want the parked turn to survive a rejected stale resume")
	}
}

func TestAttachSessionReplaysPersistedEvents(t *testing.T) {
	backend := &scriptedBackend{turns: []core.Message{core.AssistantMessage("hello there")}}
	s := newTestServer(t, backend)
	sessID := openTestSession(t, s)

	sp, _ := json.Marshal(sendPromptParams{SessionID: sessID, Text: "hi"})
	if _, ferr := s.sendPrompt(sp); ferr != nil {
		t.Fatalf("sendPrompt: %v", ferr)
	}
	waitForEndTurn(t, s, sessID)

	c := newTestClient()
	ap, _ := json.Marshal(attachSessionParams{SessionID: sessID})
	payload, ferr := s.attachSession(c, ap)
	if ferr != nil {
		t.Fatalf("attachSession: %v", ferr)
	}
	replay := payload.(attachSessionResult).Replay
	if len(replay) == 0 {
		t.Fatal("want at least one replayed event from the completed turn")
	}
}

func TestCloseSessionDetachesClients(t *testing.T) {
	backend := &scriptedBackend{turns: []core.Message{core.AssistantMessage("hi")}}
	s := newTestServer(t, backend)
	sessID := openTestSession(t, s)

	c := newTestClient()
	ap, _ := json.Marshal(attachSessionParams{SessionID: sessID})
	if _, ferr := s.attachSession(c, ap); ferr != nil {
		t.Fatalf("attachSession: %v", ferr)
	}

	cp, _ := json.Marshal(closeSessionParams{SessionID: sessID})
	if _, ferr := s.closeSession(cp); ferr != nil {
		t.Fatalf("closeSession: %v", ferr)
	}

	// The session's runtime (and with it, every attached subscriber) is
	// gone: a fresh attach against the same id now fails closed instead
	// of silently resurrecting a stream nothing will ever advance again.
	if _, ferr := s.attachSession(c, ap); ferr == nil {
		t.Fatal("want attachSession to fail for a closed session")
	}
}

func waitForEndTurn(t *testing.T, s *Server, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.engine.Idle(sessionID) {
			return
		}
		if _, ok := s.engine.Parked(sessionID); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for turn to finish")
}

func waitForParked(t *testing.T, s *Server, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.engine.Parked(sessionID); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for turn to park")
}
