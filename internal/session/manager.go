// Package session binds live connections to users. It owns the presence lifecycle and
// the room subscriptions computed from persisted membership.
package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/metrics"
	"github.com/fathima-sithara/churchconnect/internal/presence"
	"github.com/fathima-sithara/churchconnect/internal/store"
)

// Mirror publishes connection presence outside the process (Redis).
type Mirror interface {
	AddConnection(ctx context.Context, userID, connID string) error
	RemoveConnection(ctx context.Context, userID, connID string, lastSeen time.Time) error
	Refresh(ctx context.Context, userID, connID string) error
}

type Manager struct {
	store    store.Store
	registry *hub.Registry
	rooms    *hub.Rooms
	presence *presence.Broadcaster
	mirror   Mirror
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger

	userLocks [64]sync.Mutex
}

type Option func(*Manager)

func WithMirror(m Mirror) Option { return func(s *Manager) { s.mirror = m } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Manager) { s.metrics = m } }

func NewManager(st store.Store, registry *hub.Registry, rooms *hub.Rooms, pb *presence.Broadcaster, log *zap.SugaredLogger, opts ...Option) *Manager {
	m := &Manager{store: st, registry: registry, rooms: rooms, presence: pb, log: log}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnConnect subscribes c to the rooms of every conversation user belongs to, registers it
// and announces the user online. A store failure while reading memberships rejects the
// connection before any in-memory state changes.
func (m *Manager) OnConnect(ctx context.Context, user *domain.User, c hub.Conn) error {
	convs, err := m.store.ListMemberships(ctx, user.ID)
	if err != nil {
		return err
	}
	m.rooms.Join(c, convs...)

	// the registry change, the persisted flag and the broadcast for one user are serialized
	// so a racing last-disconnect cannot persist offline over a fresh connect
	unlock := m.lockUser(user.ID)
	defer unlock()

	m.registry.Add(c)
	m.gauge()

	if err := m.store.SetPresence(ctx, user.ID, true, nil); err != nil {
		m.log.Warnw("persist online flag failed", "user_id", user.ID, "err", err)
	}
	if m.mirror != nil {
		if err := m.mirror.AddConnection(ctx, user.ID, c.ID()); err != nil {
			m.log.Warnw("presence mirror add failed", "user_id", user.ID, "err", err)
		}
	}
	m.presence.Online(user.ID, c.ID())
	m.log.Infow("connection registered", "user_id", user.ID, "conn_id", c.ID(), "rooms", len(convs))
	return nil
}

// OnDisconnect unregisters c. The user goes offline only when c was their last connection.
func (m *Manager) OnDisconnect(ctx context.Context, c hub.Conn) {
	m.rooms.RemoveConn(c)

	unlock := m.lockUser(c.UserID())
	defer unlock()

	remaining := m.registry.Remove(c)
	m.gauge()

	lastSeen := store.Now()
	if m.mirror != nil {
		if err := m.mirror.RemoveConnection(ctx, c.UserID(), c.ID(), lastSeen); err != nil {
			m.log.Warnw("presence mirror remove failed", "user_id", c.UserID(), "err", err)
		}
	}
	m.log.Infow("connection closed", "user_id", c.UserID(), "conn_id", c.ID(), "remaining", remaining)
	if remaining > 0 || m.registry.Online(c.UserID()) {
		return
	}
	if err := m.store.SetPresence(ctx, c.UserID(), false, &lastSeen); err != nil {
		m.log.Warnw("persist last seen failed", "user_id", c.UserID(), "err", err)
	}
	m.presence.Offline(c.UserID(), lastSeen)
}

// Touch extends the mirror's presence expiry for a connection that is still alive.
func (m *Manager) Touch(ctx context.Context, c hub.Conn) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Refresh(ctx, c.UserID(), c.ID()); err != nil {
		m.log.Debugw("presence mirror refresh failed", "user_id", c.UserID(), "conn_id", c.ID(), "err", err)
	}
}

// Lookup returns the user's live connections at this instant; nil when offline.
func (m *Manager) Lookup(userID string) []hub.Conn {
	return m.registry.Lookup(userID)
}

// Join subscribes c to convID if userID is a member. Non-members are ignored without error.
func (m *Manager) Join(ctx context.Context, userID, convID string, c hub.Conn) error {
	if _, err := m.store.GetMember(ctx, convID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.log.Debugw("join ignored for non-member", "user_id", userID, "conversation_id", convID)
			return nil
		}
		return err
	}
	m.rooms.Join(c, convID)
	return nil
}

func (m *Manager) lockUser(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &m.userLocks[h.Sum32()%uint32(len(m.userLocks))]
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) gauge() {
	if m.metrics == nil {
		return
	}
	m.metrics.Connections.Set(float64(m.registry.Count()))
	m.metrics.OnlineUsers.Set(float64(m.registry.Users()))
}
