package ws

import (
	"encoding/json"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/domain"
)

// Inbound event names.
const (
	InMessageSend  = "message:send"
	InMessageRead  = "message:read"
	InMessageDel   = "message:delete"
	InTypingStart  = "typing:start"
	InTypingStop   = "typing:stop"
	InRoomJoin     = "room:join"
	InCallOffer    = "call:offer"
	InCallAnswer   = "call:answer"
	InCallICE      = "call:ice-candidate"
	InCallEnd      = "call:end"
	InCallReject   = "call:reject"
	inUnrecognized = "unknown"
)

// Envelope is the wire frame in both directions: {"type": "...", "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type sendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	MediaURL       string `json:"media_url"`
	ReplyToID      string `json:"reply_to_id"`
	TempID         string `json:"tempId"`
}

type readPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type deletePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type offerPayload struct {
	TargetUserID string          `json:"targetUserId"`
	Offer        json.RawMessage `json:"offer"`
	Type         string          `json:"type"`
}

type answerPayload struct {
	CallerID string          `json:"callerId"`
	Answer   json.RawMessage `json:"answer"`
}

type icePayload struct {
	TargetUserID string          `json:"targetUserId"`
	Candidate    json.RawMessage `json:"candidate"`
}

type targetPayload struct {
	TargetUserID string `json:"targetUserId"`
	CallerID     string `json:"callerId"`
}

// SentPayload acknowledges message:send to the sender, echoing its tempId.
type SentPayload struct {
	*domain.MessageView
	TempID string `json:"tempId,omitempty"`
}

// ErrorPayload is the body of an outbound error event. It only ever goes to the
// connection whose event failed.
type ErrorPayload struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Event   string      `json:"event,omitempty"`
	TempID  string      `json:"tempId,omitempty"`
}
