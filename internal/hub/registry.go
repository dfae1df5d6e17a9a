package hub

import "sync"

// Registry maps a user to every connection that user currently has open.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[string]Conn)}
}

// Add registers c and returns how many connections its user now has.
func (r *Registry) Add(c Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byUser[c.UserID()]
	if !ok {
		set = make(map[string]Conn)
		r.byUser[c.UserID()] = set
	}
	set[c.ID()] = c
	return len(set)
}

// Remove unregisters c and returns how many connections its user still has.
func (r *Registry) Remove(c Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byUser[c.UserID()]
	if !ok {
		return 0
	}
	delete(set, c.ID())
	if len(set) == 0 {
		delete(r.byUser, c.UserID())
		return 0
	}
	return len(set)
}

// Lookup returns a snapshot of the user's connections; nil when offline.
func (r *Registry) Lookup(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// SendToUser delivers ev to all of the user's connections and returns how many accepted it.
func (r *Registry) SendToUser(userID string, ev Event) int {
	n := 0
	for _, c := range r.Lookup(userID) {
		if c.Deliver(ev) {
			n++
		}
	}
	return n
}

// BroadcastAll delivers ev to every connection except excludeConnID (empty for none).
func (r *Registry) BroadcastAll(ev Event, excludeConnID string) {
	for _, c := range r.snapshot() {
		if c.ID() != excludeConnID {
			c.Deliver(ev)
		}
	}
}

// Users returns how many distinct users are online.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.byUser {
		n += len(set)
	}
	return n
}

func (r *Registry) snapshot() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byUser))
	for _, set := range r.byUser {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}
