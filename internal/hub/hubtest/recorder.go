// Package hubtest provides a recording hub.Conn for tests.
package hubtest

import (
	"sync"

	"github.com/fathima-sithara/churchconnect/internal/hub"
)

type Recorder struct {
	id, user string

	mu     sync.Mutex
	events []hub.Event
	refuse bool
}

func NewRecorder(id, userID string) *Recorder {
	return &Recorder{id: id, user: userID}
}

func (r *Recorder) ID() string     { return r.id }
func (r *Recorder) UserID() string { return r.user }

func (r *Recorder) Deliver(ev hub.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

// Refuse makes subsequent deliveries fail, like a connection with a full queue.
func (r *Recorder) Refuse() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refuse = true
}

func (r *Recorder) Events() []hub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hub.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events named typ, in delivery order.
func (r *Recorder) OfType(typ string) []hub.Event {
	var out []hub.Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
