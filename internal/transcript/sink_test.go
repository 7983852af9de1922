package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/agentcore/pkg/core"
)

func TestSinkAppendAndSince(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir, "sess-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	events := []core.Event{
		{SessionID: "sess-1", TurnID: "t1", Seq: 1, Type: core.EventContent, Time: time.Now().UTC(), Text: "hello"},
		{SessionID: "sess-1", TurnID: "t1", Seq: 2, Type: core.EventToolCall, Time: time.Now().UTC(), ToolName: "Read"},
		{SessionID: "sess-1", TurnID: "t1", Seq: 3, Type: core.EventDone, Time: time.Now().UTC()},
	}
	for _, ev := range events {
		if err := sink.Append(ctx, ev); err != nil {
			t.Fatalf("Append(seq=%d): %v", ev.Seq, err)
		}
	}

	got, err := sink.Since(ctx, 1)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Since(1): want 2 events, got %d", len(got))
	}
	if got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("Since(1): unexpected seqs %d, %d", got[0].Seq, got[1].Seq)
	}

	all, err := sink.Since(ctx, 0)
	if err != nil {
		t.Fatalf("Since(0): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Since(0): want 3 events, got %d", len(all))
	}
}

func TestSinkReopen(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(dir, "sess-2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sink.Append(context.Background(), core.Event{SessionID: "sess-2", Seq: 1, Type: core.EventDone, Time: time.Now().UTC()}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	path := sink.Path()
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, "sess-2")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Path() != path {
		t.Fatalf("reopen path mismatch: %s vs %s", reopened.Path(), path)
	}
	got, err := reopened.Since(context.Background(), 0)
	if err != nil {
		t.Fatalf("Since after reopen: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Since after reopen: want 1 event, got %d", len(got))
	}
}
