package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/events"
	"github.com/fathima-sithara/churchconnect/internal/store"
)

type CreateConversationInput struct {
	Type        domain.ConversationType `json:"type" validate:"omitempty,convtype"`
	Name        string                  `json:"name" validate:"max=120"`
	Description string                  `json:"description" validate:"max=1000"`
	MemberIDs   []string                `json:"member_ids"`
}

// CreateConversation creates a conversation with the creator as admin. Asking for a direct
// conversation with someone the creator already has one with returns the existing id.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, in CreateConversationInput) (string, bool, error) {
	if in.Type == "" {
		in.Type = domain.ConversationDirect
	}
	if err := s.validate.Struct(in); err != nil {
		return "", false, invalid(err)
	}
	others := make([]string, 0, len(in.MemberIDs))
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range in.MemberIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		others = append(others, id)
	}
	if in.Type == domain.ConversationDirect && len(others) != 1 {
		return "", false, apperr.Invalid("a direct conversation needs exactly one other member")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, id := range others {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", false, apperr.Invalid(fmt.Sprintf("unknown user %s", id))
			}
			return "", false, err
		}
	}

	if in.Type == domain.ConversationDirect {
		existing, err := s.store.FindDirectConversation(ctx, creatorID, others[0])
		if err == nil {
			return existing.ID, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", false, err
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", false, fmt.Errorf("conversation id: %w", err)
	}
	now := store.Now()
	conv := &domain.Conversation{
		ID:          id.String(),
		Type:        in.Type,
		Name:        in.Name,
		Description: in.Description,
		CreatedBy:   creatorID,
		CreatedAt:   now,
	}
	members := []domain.ConversationMember{{ConversationID: conv.ID, UserID: creatorID, Role: domain.MemberAdmin, JoinedAt: now}}
	for _, uid := range others {
		members = append(members, domain.ConversationMember{ConversationID: conv.ID, UserID: uid, Role: domain.MemberRegular, JoinedAt: now})
	}
	if err := s.store.CreateConversation(ctx, conv, members); err != nil {
		return "", false, err
	}

	for _, m := range members {
		s.joinLive(m.UserID, conv.ID)
	}
	s.publish(ctx, events.ConversationCreated, conv.ID, creatorID, conv)
	s.log.Infow("conversation created", "conversation_id", conv.ID, "type", conv.Type, "members", len(members))
	return conv.ID, false, nil
}

// ListConversations returns the user's conversations, newest first, each with the caller's
// role, the last live message, the unread count and the member list.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		sum := domain.ConversationSummary{Conversation: c}
		if m, err := s.store.GetMember(ctx, c.ID, userID); err == nil {
			sum.MyRole = m.Role
		}
		last, err := s.store.LastMessage(ctx, c.ID)
		switch {
		case err == nil:
			sum.LastMessage = last
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		if sum.UnreadCount, err = s.store.UnreadCount(ctx, userID, c.ID); err != nil {
			return nil, err
		}
		if sum.Members, err = s.store.ListMembers(ctx, c.ID); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) ListMembers(ctx context.Context, userID, convID string) ([]domain.MemberView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.requireMember(ctx, convID, userID, apperr.Forbidden("not a member of this conversation")); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, convID)
}

// AddMember adds targetID as a regular member. Only admins and moderators may add, and
// direct conversations stay at two members. Adding an existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, actorID, convID, targetID string) (bool, error) {
	if targetID == "" {
		return false, apperr.Invalid("user_id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	actor, err := s.requireMember(ctx, convID, actorID, apperr.Forbidden("no permission"))
	if err != nil {
		return false, err
	}
	if !actor.Role.CanManageMembers() {
		return false, apperr.Forbidden("no permission")
	}
	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return false, notFound(err, "conversation not found")
	}
	if conv.Type == domain.ConversationDirect {
		return false, apperr.Invalid("cannot add members to a direct conversation")
	}
	if _, err := s.store.GetUser(ctx, targetID); err != nil {
		return false, notFound(err, "user not found")
	}

	added, err := s.store.AddMember(ctx, domain.ConversationMember{
		ConversationID: convID, UserID: targetID, Role: domain.MemberRegular, JoinedAt: store.Now(),
	})
	if err != nil || !added {
		return added, err
	}
	s.joinLive(targetID, convID)
	s.publish(ctx, events.MemberAdded, convID, actorID, map[string]string{"user_id": targetID})
	return true, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, notFound(err, "user not found")
	}
	return u, nil
}

// SearchUsers matches name or email, excluding the caller.
func (s *Service) SearchUsers(ctx context.Context, callerID, query string) ([]domain.User, error) {
	if len(query) < 2 {
		return nil, apperr.Invalid("q must be at least 2 characters")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.SearchUsers(ctx, query, callerID, 20)
}
