// Package hub holds the two process-wide routing tables: which connections a user has
// open (Registry) and which connections are subscribed to a conversation (Rooms).
package hub

// Outbound event names.
const (
	EventMessageSent     = "message:sent"
	EventMessageReceived = "message:received"
	EventMessageRead     = "message:read"
	EventMessageDeleted  = "message:deleted"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventUserOnline      = "user:online"
	EventCallIncoming    = "call:incoming"
	EventCallUnavailable = "call:unavailable"
	EventCallAnswered    = "call:answered"
	EventCallICE         = "call:ice-candidate"
	EventCallEnded       = "call:ended"
	EventCallRejected    = "call:rejected"
	EventError           = "error"
)

// Event is one outbound frame. Ephemeral events may be dropped when a recipient is slow;
// durable ones may not, so the recipient is disconnected instead.
type Event struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Ephemeral bool   `json:"-"`
}

// Conn is a live connection as seen by the routing tables.
type Conn interface {
	ID() string
	UserID() string
	// Deliver queues ev without blocking and reports whether it was accepted.
	Deliver(ev Event) bool
}
