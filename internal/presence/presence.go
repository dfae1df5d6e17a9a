// Package presence emits the ephemeral online/offline and typing signals. Nothing here is persisted.
package presence

import (
	"time"

	"github.com/fathima-sithara/churchconnect/internal/hub"
)

type OnlinePayload struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Name           string `json:"name,omitempty"`
}

type Broadcaster struct {
	registry *hub.Registry
	rooms    *hub.Rooms
}

func NewBroadcaster(registry *hub.Registry, rooms *hub.Rooms) *Broadcaster {
	return &Broadcaster{registry: registry, rooms: rooms}
}

// Online tells every other connection that userID came online.
func (b *Broadcaster) Online(userID, originConnID string) {
	b.registry.BroadcastAll(hub.Event{
		Type:    hub.EventUserOnline,
		Payload: OnlinePayload{UserID: userID, IsOnline: true},
	}, originConnID)
}

func (b *Broadcaster) Offline(userID string, lastSeen time.Time) {
	b.registry.BroadcastAll(hub.Event{
		Type:    hub.EventUserOnline,
		Payload: OnlinePayload{UserID: userID, IsOnline: false, LastSeen: &lastSeen},
	}, "")
}

func (b *Broadcaster) TypingStart(origin hub.Conn, name, convID string) {
	b.typing(hub.EventTypingStart, origin, name, convID)
}

func (b *Broadcaster) TypingStop(origin hub.Conn, name, convID string) {
	b.typing(hub.EventTypingStop, origin, name, convID)
}

// typing only fans out to rooms the origin connection is subscribed to.
func (b *Broadcaster) typing(typ string, origin hub.Conn, name, convID string) {
	if !b.rooms.Subscribed(convID, origin.ID()) {
		return
	}
	b.rooms.Broadcast(convID, hub.Event{
		Type:      typ,
		Payload:   TypingPayload{ConversationID: convID, UserID: origin.UserID(), Name: name},
		Ephemeral: true,
	}, origin.ID())
}
