package agentd

import (
	"context"

	"github.com/agentcore/agentcore/internal/transcript"
	"github.com/agentcore/agentcore/pkg/core"
)

// broadcastSink is the turn.EventSink every Engine-driven turn runs
// with: it persists to the session's Transcript Sink first (so a crash
// between the two never loses an event a client has already seen) and
// then fans the event out to every attached subscriber via the
// Broadcaster. Mirrors the teacher's internal/gateway/ws_control_plane.go
// pattern of a single sink doing both durable storage and live fan-out.
type broadcastSink struct {
	sink        *transcript.Sink
	broadcaster *Broadcaster
	redactor    transcript.Redactor
}

func newBroadcastSink(sink *transcript.Sink, broadcaster *Broadcaster) *broadcastSink {
	return &broadcastSink{sink: sink, broadcaster: broadcaster}
}

// Emit redacts a ToolResult's content before it is ever persisted or
// fanned out, so a secret a tool printed to stdout never reaches the
// Transcript Sink or a live subscriber (SPEC_FULL.md §3).
func (b *broadcastSink) Emit(ctx context.Context, ev core.Event) error {
	if ev.Type == core.EventToolResult {
		ev.Content = b.redactor.Redact(ev.Content)
	}
	if err := b.sink.Append(ctx, ev); err != nil {
		return err
	}
	b.broadcaster.Publish(ev)
	return nil
}
