package chat

import (
	"context"
	"errors"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/events"
	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/store"
)

// ReadPayload is the body of the outbound message:read event.
type ReadPayload struct {
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId"`
	MessageIDs     []string `json:"messageIds"`
}

// MarkRead records read receipts for userID and broadcasts one message:read event with the
// ids that were applied. Ids the caller authored, ids outside the conversation and unknown
// ids are skipped. Receipts only move forward, so repeating the call changes nothing.
func (s *Service) MarkRead(ctx context.Context, userID, convID string, messageIDs []string, originConnID string) ([]string, error) {
	if convID == "" {
		return nil, apperr.Invalid("conversationId is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.requireMember(ctx, convID, userID, apperr.ErrNotAMember); err != nil {
		return nil, err
	}

	now := store.Now()
	applied := make([]string, 0, len(messageIDs))
	seen := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}

		m, err := s.store.GetMessage(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.ConversationID != convID || m.SenderID == userID {
			continue
		}
		r := domain.MessageReceipt{MessageID: id, UserID: userID, Status: domain.ReceiptRead, UpdatedAt: now}
		if err := s.store.UpsertReceipt(ctx, r); err != nil {
			return nil, err
		}
		applied = append(applied, id)
	}
	if len(applied) == 0 {
		return applied, nil
	}

	payload := ReadPayload{ConversationID: convID, UserID: userID, MessageIDs: applied}
	s.rooms.Broadcast(convID, hub.Event{Type: hub.EventMessageRead, Payload: payload}, originConnID)
	s.publish(ctx, events.MessageRead, convID, userID, payload)
	return applied, nil
}

// UnreadCount counts live messages in convID not authored by userID and not yet read by them.
func (s *Service) UnreadCount(ctx context.Context, userID, convID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.UnreadCount(ctx, userID, convID)
}
