package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/events"
	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/store"
)

type SendInput struct {
	ConversationID string             `json:"conversationId" validate:"required"`
	Type           domain.MessageType `json:"type" validate:"required,msgtype"`
	Content        string             `json:"content" validate:"required,max=10000"`
	MediaURL       string             `json:"media_url" validate:"omitempty,max=2048"`
	ReplyToID      string             `json:"reply_to_id"`
}

// DeletedPayload is the body of message:deleted.
type DeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// SendMessage persists a message from senderID and broadcasts message:received to the
// conversation's room. originConnID is left out of the broadcast; pass "" when the
// caller has no connection (REST). The caller acknowledges the sender itself with the
// returned view.
func (s *Service) SendMessage(ctx context.Context, senderID string, in SendInput, originConnID string) (*domain.MessageView, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.requireMember(ctx, in.ConversationID, senderID, apperr.ErrNotAMember); err != nil {
		return nil, err
	}
	if in.ReplyToID != "" {
		parent, err := s.store.GetMessage(ctx, in.ReplyToID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && parent.ConversationID != in.ConversationID) {
			return nil, apperr.Invalid("reply_to_id must reference a message in the same conversation")
		}
		if err != nil {
			return nil, err
		}
	}

	// id, timestamp, commit and fan-out happen under the conversation's lock so every
	// subscriber sees the conversation's messages in commit order
	unlock := s.lockConversation(in.ConversationID)
	defer unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	msg := &domain.Message{
		ID:             id.String(),
		ConversationID: in.ConversationID,
		SenderID:       senderID,
		Type:           in.Type,
		Content:        in.Content,
		MediaURL:       in.MediaURL,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      store.Now(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	view, err := s.store.GetMessageView(ctx, msg.ID)
	if err != nil {
		// the row is committed; fall back to an undecorated view rather than report a failed send
		s.log.Warnw("decorate message failed", "message_id", msg.ID, "err", err)
		v := domain.NewMessageView(*msg, nil)
		view = &v
	}

	s.rooms.Broadcast(in.ConversationID, hub.Event{Type: hub.EventMessageReceived, Payload: view}, originConnID)
	if s.metrics != nil {
		s.metrics.Messages.Inc()
	}
	s.publish(ctx, events.MessageCreated, in.ConversationID, senderID, view)
	return view, nil
}

// DeleteMessage tombstones a message its sender owns and broadcasts message:deleted to the
// whole room, including the actor's own connections. Repeating it repeats the same effect.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) (*domain.Message, error) {
	if messageID == "" {
		return nil, apperr.Invalid("messageId is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, notFound(err, "message not found")
	}
	if msg.SenderID != userID {
		return nil, apperr.Forbidden("cannot delete another member's message")
	}
	if err := s.store.TombstoneMessage(ctx, messageID); err != nil {
		return nil, notFound(err, "message not found")
	}
	msg.IsDeleted = true
	msg.Content = domain.Tombstone

	s.rooms.Broadcast(msg.ConversationID, hub.Event{
		Type:    hub.EventMessageDeleted,
		Payload: DeletedPayload{MessageID: msg.ID, ConversationID: msg.ConversationID},
	}, "")
	s.publish(ctx, events.MessageDeleted, msg.ConversationID, userID, DeletedPayload{MessageID: msg.ID, ConversationID: msg.ConversationID})
	return msg, nil
}

// ListMessages returns one page of a conversation's live messages, oldest first. Listing
// counts as reading: every returned message the caller did not author gets a read receipt.
func (s *Service) ListMessages(ctx context.Context, userID, convID string, limit int, before store.Cursor) ([]domain.MessageView, error) {
	if convID == "" {
		return nil, apperr.Invalid("conversationId is required")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.requireMember(ctx, convID, userID, apperr.Forbidden("not a member of this conversation")); err != nil {
		return nil, err
	}
	page, err := s.store.ListMessages(ctx, convID, limit, before)
	if err != nil {
		return nil, err
	}

	now := store.Now()
	for _, m := range page {
		if m.SenderID == userID {
			continue
		}
		r := domain.MessageReceipt{MessageID: m.ID, UserID: userID, Status: domain.ReceiptRead, UpdatedAt: now}
		if err := s.store.UpsertReceipt(ctx, r); err != nil {
			s.log.Warnw("receipt upsert on list failed", "message_id", m.ID, "user_id", userID, "err", err)
		}
	}
	return page, nil
}
