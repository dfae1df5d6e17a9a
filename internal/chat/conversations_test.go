package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/events"
)

func TestCreateConversation_DirectDedupe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, existing, err := f.svc.CreateConversation(ctx, "alice", CreateConversationInput{MemberIDs: []string{"bob"}})
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, "d", id)

	id, existing, err = f.svc.CreateConversation(ctx, "carol", CreateConversationInput{Type: domain.ConversationDirect, MemberIDs: []string{"alice"}})
	require.NoError(t, err)
	assert.False(t, existing)

	creator, err := f.store.GetMember(ctx, id, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberAdmin, creator.Role)
	other, err := f.store.GetMember(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberRegular, other.Role)
}

func TestCreateConversation_Invalid(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   CreateConversationInput
	}{
		{name: "direct without partner", in: CreateConversationInput{Type: domain.ConversationDirect}},
		{name: "direct with self only", in: CreateConversationInput{MemberIDs: []string{"alice"}}},
		{name: "direct with two others", in: CreateConversationInput{MemberIDs: []string{"bob", "carol"}}},
		{name: "unknown type", in: CreateConversationInput{Type: "channel", MemberIDs: []string{"bob"}}},
		{name: "unknown member", in: CreateConversationInput{Type: domain.ConversationGroup, MemberIDs: []string{"ghost"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.CreateConversation(context.Background(), "alice", tt.in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestCreateConversation_JoinsLiveConnections(t *testing.T) {
	f := newFixture(t)
	carol := f.connect("c1", "carol")

	id, _, err := f.svc.CreateConversation(context.Background(), "alice",
		CreateConversationInput{Type: domain.ConversationGroup, Name: "Youth", MemberIDs: []string{"carol"}})
	require.NoError(t, err)

	assert.True(t, f.rooms.Subscribed(id, carol.ID()))
	assert.Contains(t, f.events.Names(), events.ConversationCreated)
}

func TestAddMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := f.connect("c1", "carol")

	_, err := f.svc.AddMember(ctx, "bob", "g", "carol")
	assert.ErrorIs(t, err, apperr.ErrForbidden, "regular members cannot add")

	_, err = f.svc.AddMember(ctx, "carol", "g", "carol")
	assert.ErrorIs(t, err, apperr.ErrForbidden, "non-members cannot add")

	_, err = f.svc.AddMember(ctx, "alice", "g", "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	added, err := f.svc.AddMember(ctx, "alice", "g", "carol")
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, f.rooms.Subscribed("g", carol.ID()))

	added, err = f.svc.AddMember(ctx, "alice", "g", "carol")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestAddMember_DirectConversationIsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, err := f.svc.CreateConversation(ctx, "carol", CreateConversationInput{MemberIDs: []string{"bob"}})
	require.NoError(t, err)

	_, err = f.svc.AddMember(ctx, "carol", id, "alice")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "alice", "g", "welcome")
	last := f.send(t, "alice", "g", "service at 10")
	f.connect("b1", "bob", "d", "g")

	convs, err := f.svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 2)

	var group domain.ConversationSummary
	for _, c := range convs {
		if c.ID == "g" {
			group = c
		}
	}
	assert.Equal(t, domain.MemberRegular, group.MyRole)
	require.NotNil(t, group.LastMessage)
	assert.Equal(t, last.ID, group.LastMessage.ID)
	assert.Equal(t, int64(2), group.UnreadCount)
	assert.Len(t, group.Members, 2)
}

func TestListMembers(t *testing.T) {
	f := newFixture(t)
	members, err := f.svc.ListMembers(context.Background(), "bob", "g")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Alice", members[0].FullName)
	assert.Equal(t, domain.MemberAdmin, members[0].Role)

	_, err = f.svc.ListMembers(context.Background(), "carol", "g")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t)
	users, err := f.svc.SearchUsers(context.Background(), "alice", "bo")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].ID)

	_, err = f.svc.SearchUsers(context.Background(), "alice", "b")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.svc.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
