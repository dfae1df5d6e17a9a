// Package events publishes domain events for downstream consumers such as push
// notification workers. Publishing is best effort and never fails a user operation.
package events

import (
	"context"
	"time"
)

const (
	MessageCreated      = "message.created"
	MessageDeleted      = "message.deleted"
	MessageRead         = "message.read"
	ConversationCreated = "conversation.created"
	MemberAdded         = "member.added"
)

type Event struct {
	Name           string    `json:"name"`
	ConversationID string    `json:"conversation_id"`
	ActorID        string    `json:"actor_id"`
	Data           any       `json:"data,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
