package agentd

import (
	"sync"

	"github.com/agentcore/agentcore/pkg/core"
)

// subscriberBuffer bounds how many undelivered events queue per attached
// subscriber before the Broadcaster disconnects it (spec §5's per-client
// backpressure high-watermark; default mirrors the teacher's
// ws_control_plane.go wsSession send channel, scaled up from its 64 to
// the spec's documented 256).
const subscriberBuffer = 256

// Subscriber receives events for whatever sessions it is attached to.
// Both the websocket gateway's Client and the local unix-socket
// connection implement it, so Engine's fan-out logic does not care which
// transport is listening.
type Subscriber interface {
	// Deliver attempts a non-blocking send of ev, reporting whether it
	// was queued. Returning false marks the subscriber slow.
	Deliver(ev core.Event) bool
}

// Disconnector is the optional extra a Subscriber implements to be told
// to tear itself down once the Broadcaster judges it too slow to keep up
// (spec §5: a slow client must never block turn execution for its own
// session, let alone others).
type Disconnector interface {
	DisconnectSlow()
}

// Broadcaster fans out one session's Events to every Subscriber currently
// attached to it. Grounded on the teacher's ws_control_plane.go
// wsSession.enqueue pattern (bounded channel, non-blocking send, drop the
// client on overflow), generalized from one send-channel-per-connection
// to many-subscribers-per-session and from one transport to any.
type Broadcaster struct {
	mu       sync.Mutex
	sessions map[string]map[Subscriber]struct{}
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{sessions: make(map[string]map[Subscriber]struct{})}
}

// Attach registers sub to receive every future Publish for sessionID.
func (b *Broadcaster) Attach(sessionID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sessions[sessionID]
	if !ok {
		set = make(map[Subscriber]struct{})
		b.sessions[sessionID] = set
	}
	set[sub] = struct{}{}
}

// Detach removes sub from sessionID's fan-out set.
func (b *Broadcaster) Detach(sessionID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.sessions, sessionID)
	}
}

// DetachAll removes sub from every session it was attached to, used when
// a connection closes.
func (b *Broadcaster) DetachAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, set := range b.sessions {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.sessions, id)
			}
		}
	}
}

// DetachAllForSession drops every subscriber attached to sessionID, used
// when a session closes so its subscribers stop waiting on a stream that
// will never advance again.
func (b *Broadcaster) DetachAllForSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// Publish fans ev out to every subscriber attached to its session. A
// subscriber whose buffer is full is disconnected rather than allowed to
// stall the fan-out for every other attachment.
func (b *Broadcaster) Publish(ev core.Event) {
	b.mu.Lock()
	var slow []Subscriber
	set := b.sessions[ev.SessionID]
	for sub := range set {
		if !sub.Deliver(ev) {
			slow = append(slow, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range slow {
		b.Detach(ev.SessionID, sub)
		if d, ok := sub.(Disconnector); ok {
			d.DisconnectSlow()
		}
	}
}
