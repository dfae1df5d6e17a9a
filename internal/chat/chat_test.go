package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/events"
	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/hub/hubtest"
	"github.com/fathima-sithara/churchconnect/internal/store"
)

type fixture struct {
	store    *store.MemoryStore
	registry *hub.Registry
	rooms    *hub.Rooms
	events   *events.Recorder
	svc      *Service
}

// newFixture seeds alice, bob and carol; alice and bob share direct conversation "d",
// and alice administers group "g" with bob as a regular member.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.PutUser(domain.User{ID: "alice", FullName: "Alice", ChurchRole: domain.RolePastor})
	st.PutUser(domain.User{ID: "bob", FullName: "Bob"})
	st.PutUser(domain.User{ID: "carol", FullName: "Carol"})
	require.NoError(t, st.CreateConversation(ctx, &domain.Conversation{ID: "d", Type: domain.ConversationDirect, CreatedAt: store.Now()},
		[]domain.ConversationMember{
			{ConversationID: "d", UserID: "alice", Role: domain.MemberRegular},
			{ConversationID: "d", UserID: "bob", Role: domain.MemberRegular},
		}))
	require.NoError(t, st.CreateConversation(ctx, &domain.Conversation{ID: "g", Type: domain.ConversationGroup, CreatedAt: store.Now()},
		[]domain.ConversationMember{
			{ConversationID: "g", UserID: "alice", Role: domain.MemberAdmin},
			{ConversationID: "g", UserID: "bob", Role: domain.MemberRegular},
		}))

	rec := &events.Recorder{}
	reg := hub.NewRegistry()
	rooms := hub.NewRooms()
	svc := NewService(st, reg, rooms, zap.NewNop().Sugar(), WithPublisher(rec))
	return &fixture{store: st, registry: reg, rooms: rooms, events: rec, svc: svc}
}

func (f *fixture) connect(id, user string, convs ...string) *hubtest.Recorder {
	c := hubtest.NewRecorder(id, user)
	f.registry.Add(c)
	f.rooms.Join(c, convs...)
	return c
}

func (f *fixture) send(t *testing.T, sender, conv, content string) *domain.MessageView {
	t.Helper()
	v, err := f.svc.SendMessage(context.Background(), sender, SendInput{ConversationID: conv, Type: domain.MessageText, Content: content}, "")
	require.NoError(t, err)
	return v
}

func (f *fixture) count(t *testing.T, conv string) int {
	t.Helper()
	page, err := f.store.ListMessages(context.Background(), conv, 1000, store.Cursor{})
	require.NoError(t, err)
	return len(page)
}

func TestSendMessage_DeliversToRoomExcludingOrigin(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("a1", "alice", "d")
	aliceTablet := f.connect("a2", "alice", "d")
	bob := f.connect("b1", "bob", "d")

	view, err := f.svc.SendMessage(context.Background(), "alice",
		SendInput{ConversationID: "d", Type: domain.MessageText, Content: "Grace and peace"}, alice.ID())
	require.NoError(t, err)

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "Alice", view.SenderName)
	assert.Equal(t, domain.RolePastor, view.SenderRole)
	assert.False(t, view.IsDeleted)

	assert.Empty(t, alice.Events())
	assert.Len(t, aliceTablet.OfType(hub.EventMessageReceived), 1)
	got := bob.OfType(hub.EventMessageReceived)
	require.Len(t, got, 1)
	recv := got[0].Payload.(*domain.MessageView)
	assert.Equal(t, view.ID, recv.ID)
	assert.Equal(t, "Grace and peace", recv.Content)
	assert.Equal(t, "alice", recv.SenderID)

	assert.Equal(t, []string{events.MessageCreated}, f.events.Names())
}

func TestSendMessage_NonMemberFailsWithoutWrite(t *testing.T) {
	f := newFixture(t)
	before := f.count(t, "d")

	_, err := f.svc.SendMessage(context.Background(), "carol",
		SendInput{ConversationID: "d", Type: domain.MessageText, Content: "hi"}, "")

	assert.ErrorIs(t, err, apperr.ErrNotAMember)
	assert.Equal(t, before, f.count(t, "d"))
	assert.Empty(t, f.events.Names())
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t)
	f.send(t, "bob", "g", "in the group")
	groupMsg, err := f.store.LastMessage(context.Background(), "g")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   SendInput
	}{
		{name: "missing content", in: SendInput{ConversationID: "d", Type: domain.MessageText}},
		{name: "missing type", in: SendInput{ConversationID: "d", Content: "x"}},
		{name: "unknown type", in: SendInput{ConversationID: "d", Type: "sticker", Content: "x"}},
		{name: "missing conversation", in: SendInput{Type: domain.MessageText, Content: "x"}},
		{name: "media url too long", in: SendInput{ConversationID: "d", Type: domain.MessageImage, Content: "x", MediaURL: "/uploads/" + strings.Repeat("a", 2048)}},
		{name: "reply to unknown message", in: SendInput{ConversationID: "d", Type: domain.MessageText, Content: "x", ReplyToID: "nope"}},
		{name: "reply across conversations", in: SendInput{ConversationID: "d", Type: domain.MessageText, Content: "x", ReplyToID: groupMsg.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), "alice", tt.in, "")
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, f.count(t, "d"))
}

func TestSendMessage_ReplyInSameConversation(t *testing.T) {
	f := newFixture(t)
	parent := f.send(t, "bob", "d", "amen")

	v, err := f.svc.SendMessage(context.Background(), "alice",
		SendInput{ConversationID: "d", Type: domain.MessagePrayer, Content: "praying", ReplyToID: parent.ID}, "")

	require.NoError(t, err)
	assert.Equal(t, parent.ID, v.ReplyToID)
}

func TestSendMessage_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	bob := f.connect("b1", "bob", "d")
	f.store.SetUnavailable(errors.New("down"))

	_, err := f.svc.SendMessage(context.Background(), "alice",
		SendInput{ConversationID: "d", Type: domain.MessageText, Content: "x"}, "")

	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
	assert.Empty(t, bob.Events())
	assert.True(t, f.rooms.Subscribed("d", "b1"))
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("a1", "alice", "d")
	bob := f.connect("b1", "bob", "d")
	msg := f.send(t, "bob", "d", "original")
	alice.Reset()

	t.Run("other member is forbidden and nothing changes", func(t *testing.T) {
		_, err := f.svc.DeleteMessage(context.Background(), "alice", msg.ID)
		assert.ErrorIs(t, err, apperr.ErrForbidden)

		stored, err := f.store.GetMessage(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "original", stored.Content)
		assert.False(t, stored.IsDeleted)
		assert.Empty(t, alice.OfType(hub.EventMessageDeleted))
	})

	t.Run("sender tombstones and the full room is told", func(t *testing.T) {
		_, err := f.svc.DeleteMessage(context.Background(), "bob", msg.ID)
		require.NoError(t, err)

		stored, err := f.store.GetMessage(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Tombstone, stored.Content)
		assert.True(t, stored.IsDeleted)

		require.Len(t, bob.OfType(hub.EventMessageDeleted), 1)
		assert.Equal(t, DeletedPayload{MessageID: msg.ID, ConversationID: "d"}, bob.OfType(hub.EventMessageDeleted)[0].Payload)
		assert.Len(t, alice.OfType(hub.EventMessageDeleted), 1)
	})

	t.Run("repeat is idempotent", func(t *testing.T) {
		m, err := f.svc.DeleteMessage(context.Background(), "bob", msg.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Tombstone, m.Content)
		assert.True(t, m.IsDeleted)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := f.svc.DeleteMessage(context.Background(), "bob", "missing")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestSendMessage_RelativeMediaPath(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.SendMessage(context.Background(), "alice",
		SendInput{ConversationID: "d", Type: domain.MessageImage, Content: "photo", MediaURL: "/uploads/a.jpg"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/a.jpg", view.MediaURL)
}

func TestListMessages_OrderAndBackwardPagination(t *testing.T) {
	f := newFixture(t)
	// every message shares one millisecond; the id splits the tie
	at := store.Now()
	for i := 0; i < 7; i++ {
		require.NoError(t, f.store.InsertMessage(context.Background(), &domain.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "d",
			SenderID:       "alice",
			Type:           domain.MessageText,
			Content:        fmt.Sprintf("m%d", i),
			CreatedAt:      at,
		}))
	}

	seen := map[string]bool{}
	var before store.Cursor
	var pages [][]domain.MessageView
	for {
		page, err := f.svc.ListMessages(context.Background(), "bob", "d", 3, before)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for i := 1; i < len(page); i++ {
			assert.Less(t, page[i-1].ID, page[i].ID, "page must be oldest to newest")
		}
		for _, m := range page {
			assert.False(t, seen[m.ID], "message %s returned twice", m.ID)
			seen[m.ID] = true
		}
		pages = append(pages, page)
		before = store.CursorAt(page[0].Message)
	}

	assert.Len(t, seen, 7)
	require.Len(t, pages, 3)
	assert.Equal(t, "m6", pages[0][2].Content)
	assert.Equal(t, "m0", pages[2][0].Content)
}

func TestListMessages_SameMillisecondSends(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.send(t, "alice", "d", fmt.Sprintf("m%d", i))
	}

	var got []string
	var before store.Cursor
	for {
		page, err := f.svc.ListMessages(context.Background(), "bob", "d", 2, before)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for i := len(page) - 1; i >= 0; i-- {
			got = append(got, page[i].Content)
		}
		before = store.CursorAt(page[0].Message)
	}

	require.Len(t, got, 20)
	for i, c := range got {
		assert.Equal(t, fmt.Sprintf("m%d", 19-i), c)
	}
}

func TestListMessages_MarksOthersMessagesRead(t *testing.T) {
	f := newFixture(t)
	fromAlice := f.send(t, "alice", "d", "hello")
	fromBob := f.send(t, "bob", "d", "hi")

	_, err := f.svc.ListMessages(context.Background(), "bob", "d", 0, store.Cursor{})
	require.NoError(t, err)

	r, err := f.store.GetReceipt(context.Background(), fromAlice.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ReceiptRead, r.Status)

	_, err = f.store.GetReceipt(context.Background(), fromBob.ID, "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListMessages_NonMemberForbidden(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListMessages(context.Background(), "carol", "d", 10, store.Cursor{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("a1", "alice", "d")
	bobPhone := f.connect("b1", "bob", "d")
	bobLaptop := f.connect("b2", "bob", "d")
	m1 := f.send(t, "alice", "d", "one")
	m2 := f.send(t, "alice", "d", "two")
	own := f.send(t, "bob", "d", "mine")
	alice.Reset()
	bobLaptop.Reset()

	ids := []string{m1.ID, m2.ID, own.ID, "unknown"}
	applied, err := f.svc.MarkRead(context.Background(), "bob", "d", ids, bobPhone.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m2.ID}, applied)

	reads := alice.OfType(hub.EventMessageRead)
	require.Len(t, reads, 1)
	assert.Equal(t, ReadPayload{ConversationID: "d", UserID: "bob", MessageIDs: []string{m1.ID, m2.ID}}, reads[0].Payload)
	assert.Len(t, bobLaptop.OfType(hub.EventMessageRead), 1)
	assert.Empty(t, bobPhone.OfType(hub.EventMessageRead))

	first := map[string]domain.MessageReceipt{}
	for _, id := range applied {
		r, err := f.store.GetReceipt(context.Background(), id, "bob")
		require.NoError(t, err)
		first[id] = *r
	}

	_, err = f.svc.MarkRead(context.Background(), "bob", "d", ids, bobPhone.ID())
	require.NoError(t, err)
	for _, id := range applied {
		r, err := f.store.GetReceipt(context.Background(), id, "bob")
		require.NoError(t, err)
		assert.Equal(t, first[id].Status, r.Status)
	}
	_, err = f.store.GetReceipt(context.Background(), own.ID, "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := f.svc.UnreadCount(context.Background(), "bob", "d")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMarkRead_NothingAppliedNoBroadcast(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("a1", "alice", "d")
	own := f.send(t, "bob", "d", "mine")
	alice.Reset()

	applied, err := f.svc.MarkRead(context.Background(), "bob", "d", []string{own.ID}, "")
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Empty(t, alice.Events())

	_, err = f.svc.MarkRead(context.Background(), "carol", "d", []string{own.ID}, "")
	assert.ErrorIs(t, err, apperr.ErrNotAMember)
}

func TestUnreadCount(t *testing.T) {
	f := newFixture(t)
	m1 := f.send(t, "alice", "d", "one")
	f.send(t, "alice", "d", "two")
	gone := f.send(t, "alice", "d", "three")
	f.send(t, "bob", "d", "mine")
	_, err := f.svc.DeleteMessage(context.Background(), "alice", gone.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkRead(context.Background(), "bob", "d", []string{m1.ID}, "")
	require.NoError(t, err)

	n, err := f.svc.UnreadCount(context.Background(), "bob", "d")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
