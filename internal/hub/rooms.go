package hub

import "sync"

// Rooms maps a conversation to the connections subscribed to it. A reverse index lets a
// closing connection leave all its rooms in one call.
type Rooms struct {
	mu     sync.RWMutex
	byConv map[string]map[string]Conn
	byConn map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		byConv: make(map[string]map[string]Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join subscribes c to each conversation. Joining twice is harmless.
func (r *Rooms) Join(c Conn, convIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined, ok := r.byConn[c.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[c.ID()] = joined
	}
	for _, conv := range convIDs {
		set, ok := r.byConv[conv]
		if !ok {
			set = make(map[string]Conn)
			r.byConv[conv] = set
		}
		set[c.ID()] = c
		joined[conv] = struct{}{}
	}
}

// RemoveConn drops c from every room it joined.
func (r *Rooms) RemoveConn(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conv := range r.byConn[c.ID()] {
		if set, ok := r.byConv[conv]; ok {
			delete(set, c.ID())
			if len(set) == 0 {
				delete(r.byConv, conv)
			}
		}
	}
	delete(r.byConn, c.ID())
}

func (r *Rooms) Subscribed(convID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConv[convID][connID]
	return ok
}

func (r *Rooms) Members(convID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byConv[convID]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Broadcast delivers ev to every connection in the room except excludeConnID (empty for none).
// Delivery happens outside the lock; a recipient that refuses the event does not affect the others.
func (r *Rooms) Broadcast(convID string, ev Event, excludeConnID string) int {
	n := 0
	for _, c := range r.Members(convID) {
		if c.ID() == excludeConnID {
			continue
		}
		if c.Deliver(ev) {
			n++
		}
	}
	return n
}
