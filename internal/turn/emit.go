package turn

import (
	"context"
	"sync/atomic"

	"github.com/agentcore/agentcore/pkg/core"
)

// EventSink receives every Event a turn produces, after sequencing. A
// concrete implementation fans the event out to the Transcript Sink and to
// any attached gateway clients; the runner itself knows nothing about
// either.
type EventSink interface {
	Emit(ctx context.Context, ev core.Event) error
}

// SeqEmitter stamps each event with the next monotonic sequence number for
// a session before forwarding it to an EventSink. One SeqEmitter is shared
// by every turn of a given session, so sequence numbers never reset or
// collide across turns (spec §4.3 "Ordering guarantee").
type SeqEmitter struct {
	sink EventSink
	seq  uint64 // accessed via atomic
}

// NewSeqEmitter wraps sink, starting sequencing at lastSeq+1 (pass the last
// persisted seq on session recovery, or 0 for a brand-new session).
func NewSeqEmitter(sink EventSink, lastSeq uint64) *SeqEmitter {
	return &SeqEmitter{sink: sink, seq: lastSeq}
}

// Emit assigns the next sequence number and forwards the event.
func (e *SeqEmitter) Emit(ctx context.Context, ev core.Event) error {
	ev.Seq = atomic.AddUint64(&e.seq, 1)
	return e.sink.Emit(ctx, ev)
}
