// Package store is the persistent store the realtime engine reads and writes:
// users, conversations, memberships, messages and receipts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/churchconnect/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]domain.User, error)
	// SetPresence persists the online flag; lastSeen is written only when non-nil.
	SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error

	CreateConversation(ctx context.Context, c *domain.Conversation, members []domain.ConversationMember) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error)
	// ListConversations returns the user's conversations, newest first.
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)

	GetMember(ctx context.Context, conversationID, userID string) (*domain.ConversationMember, error)
	// AddMember inserts the row unless the pair already exists; it reports whether a row was added.
	AddMember(ctx context.Context, m domain.ConversationMember) (bool, error)
	ListMembers(ctx context.Context, conversationID string) ([]domain.MemberView, error)
	ListMemberships(ctx context.Context, userID string) ([]string, error)

	InsertMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	GetMessageView(ctx context.Context, id string) (*domain.MessageView, error)
	// TombstoneMessage sets is_deleted and replaces the content with domain.Tombstone.
	TombstoneMessage(ctx context.Context, id string) error
	// ListMessages returns up to limit non-deleted messages strictly older than the cursor
	// (or the newest ones for a zero cursor), ordered oldest to newest.
	ListMessages(ctx context.Context, conversationID string, limit int, before Cursor) ([]domain.MessageView, error)
	LastMessage(ctx context.Context, conversationID string) (*domain.Message, error)

	// UpsertReceipt creates the receipt or advances its status; it never regresses one.
	UpsertReceipt(ctx context.Context, r domain.MessageReceipt) error
	GetReceipt(ctx context.Context, messageID, userID string) (*domain.MessageReceipt, error)
	UnreadCount(ctx context.Context, userID, conversationID string) (int64, error)
}

// Cursor points at the oldest message a client already holds. Messages are ordered by
// (created_at, id); ids are UUIDv7 so they sort in creation order within a millisecond.
// An empty BeforeID compares on the timestamp alone.
type Cursor struct {
	Before   time.Time
	BeforeID string
}

func (c Cursor) IsZero() bool { return c.Before.IsZero() }

// Admits reports whether a message with the given position lies strictly before c.
func (c Cursor) Admits(createdAt time.Time, id string) bool {
	if c.Before.IsZero() {
		return true
	}
	if createdAt.Before(c.Before) {
		return true
	}
	return c.BeforeID != "" && createdAt.Equal(c.Before) && id < c.BeforeID
}

// CursorAt is the cursor for the page that ends just before m.
func CursorAt(m domain.Message) Cursor {
	return Cursor{Before: m.CreatedAt, BeforeID: m.ID}
}

// Now is the store clock. Timestamps are kept at millisecond precision to match MongoDB.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
