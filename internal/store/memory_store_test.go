package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
)

func seedConversation(t *testing.T, s *MemoryStore, convID string, users ...string) {
	t.Helper()
	members := make([]domain.ConversationMember, 0, len(users))
	for _, u := range users {
		s.PutUser(domain.User{ID: u, FullName: "User " + u})
		members = append(members, domain.ConversationMember{ConversationID: convID, UserID: u, Role: domain.MemberRegular})
	}
	err := s.CreateConversation(context.Background(), &domain.Conversation{
		ID: convID, Type: domain.ConversationGroup, CreatedAt: Now(),
	}, members)
	require.NoError(t, err)
}

func TestMemoryStore_ListMessagesPagesBackward(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedConversation(t, s, "c1", "a", "b")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertMessage(ctx, &domain.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			SenderID:       "a",
			Type:           domain.MessageText,
			Content:        fmt.Sprintf("hello %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := s.ListMessages(ctx, "c1", 2, Cursor{})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ID)
	assert.Equal(t, "m4", page[1].ID)
	assert.Equal(t, "User a", page[0].SenderName)

	older, err := s.ListMessages(ctx, "c1", 10, Cursor{Before: page[0].CreatedAt})
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, []string{"m0", "m1", "m2"}, []string{older[0].ID, older[1].ID, older[2].ID})
}

func TestMemoryStore_ListMessagesBreaksTimestampTies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedConversation(t, s, "c1", "a")

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"m3", "m1", "m4", "m2"} {
		require.NoError(t, s.InsertMessage(ctx, &domain.Message{ID: id, ConversationID: "c1", SenderID: "a", Type: domain.MessageText, Content: id, CreatedAt: at}))
	}
	require.NoError(t, s.InsertMessage(ctx, &domain.Message{ID: "m0", ConversationID: "c1", SenderID: "a", Type: domain.MessageText, Content: "m0", CreatedAt: at.Add(-time.Second)}))

	page, err := s.ListMessages(ctx, "c1", 2, Cursor{})
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4"}, []string{page[0].ID, page[1].ID})

	page, err = s.ListMessages(ctx, "c1", 2, CursorAt(page[0].Message))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, []string{page[0].ID, page[1].ID})

	page, err = s.ListMessages(ctx, "c1", 2, CursorAt(page[0].Message))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m0", page[0].ID)

	page, err = s.ListMessages(ctx, "c1", 10, Cursor{Before: at})
	require.NoError(t, err)
	require.Len(t, page, 1, "a bare timestamp excludes the whole tie")
}

func TestCursor_Admits(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Cursor{Before: at, BeforeID: "m5"}
	assert.True(t, c.Admits(at.Add(-time.Millisecond), "m9"))
	assert.True(t, c.Admits(at, "m4"))
	assert.False(t, c.Admits(at, "m5"))
	assert.False(t, c.Admits(at, "m6"))
	assert.False(t, c.Admits(at.Add(time.Millisecond), "m0"))
	assert.True(t, Cursor{}.Admits(at, "m5"))
}

func TestMemoryStore_TombstoneHidesFromListing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedConversation(t, s, "c1", "a")
	require.NoError(t, s.InsertMessage(ctx, &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "a", Type: domain.MessageText, Content: "x", CreatedAt: Now()}))

	require.NoError(t, s.TombstoneMessage(ctx, "m1"))

	m, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.IsDeleted)
	assert.Equal(t, domain.Tombstone, m.Content)

	page, err := s.ListMessages(ctx, "c1", 10, Cursor{})
	require.NoError(t, err)
	assert.Empty(t, page)

	assert.ErrorIs(t, s.TombstoneMessage(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_UpsertReceiptIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertReceipt(ctx, domain.MessageReceipt{MessageID: "m1", UserID: "b", Status: domain.ReceiptRead, UpdatedAt: Now()}))
	require.NoError(t, s.UpsertReceipt(ctx, domain.MessageReceipt{MessageID: "m1", UserID: "b", Status: domain.ReceiptDelivered, UpdatedAt: Now()}))

	r, err := s.GetReceipt(ctx, "m1", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptRead, r.Status)
}

func TestMemoryStore_UnreadCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedConversation(t, s, "c1", "a", "b")
	for i, sender := range []string{"a", "a", "b", "a"} {
		require.NoError(t, s.InsertMessage(ctx, &domain.Message{
			ID: fmt.Sprintf("m%d", i), ConversationID: "c1", SenderID: sender,
			Type: domain.MessageText, Content: "x", CreatedAt: Now(),
		}))
	}
	require.NoError(t, s.TombstoneMessage(ctx, "m3"))
	require.NoError(t, s.UpsertReceipt(ctx, domain.MessageReceipt{MessageID: "m0", UserID: "b", Status: domain.ReceiptRead}))
	require.NoError(t, s.UpsertReceipt(ctx, domain.MessageReceipt{MessageID: "m1", UserID: "b", Status: domain.ReceiptDelivered}))

	n, err := s.UnreadCount(ctx, "b", "c1")
	require.NoError(t, err)
	// m1 is only delivered; m2 is b's own; m3 is deleted
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_AddMemberIsUniquePerPair(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedConversation(t, s, "c1", "a")

	added, err := s.AddMember(ctx, domain.ConversationMember{ConversationID: "c1", UserID: "a", Role: domain.MemberAdmin})
	require.NoError(t, err)
	assert.False(t, added)

	m, err := s.GetMember(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberRegular, m.Role)
}

func TestMemoryStore_FindDirectConversation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedConversation(t, s, "group", "a", "b")

	_, err := s.FindDirectConversation(ctx, "a", "b")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateConversation(ctx, &domain.Conversation{ID: "dm", Type: domain.ConversationDirect}, []domain.ConversationMember{
		{ConversationID: "dm", UserID: "a"}, {ConversationID: "dm", UserID: "b"},
	}))
	c, err := s.FindDirectConversation(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, "dm", c.ID)
}

func TestMemoryStore_Unavailable(t *testing.T) {
	s := NewMemoryStore()
	s.SetUnavailable(errors.New("connection refused"))

	_, err := s.GetUser(context.Background(), "a")
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	s.SetUnavailable(nil)
	_, err = s.GetUser(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
