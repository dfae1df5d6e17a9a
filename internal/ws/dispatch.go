package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/apperr"
	"github.com/fathima-sithara/churchconnect/internal/chat"
	"github.com/fathima-sithara/churchconnect/internal/domain"
	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/metrics"
	"github.com/fathima-sithara/churchconnect/internal/presence"
	"github.com/fathima-sithara/churchconnect/internal/session"
	"github.com/fathima-sithara/churchconnect/internal/signaling"
)

// Peer is the authenticated side of one connection.
type Peer struct {
	Conn hub.Conn
	User *domain.User
}

// Dispatcher turns inbound frames into calls on the engine components. Frames from one
// connection are dispatched one at a time, in arrival order, by that connection's read pump.
type Dispatcher struct {
	sessions *session.Manager
	chat     *chat.Service
	presence *presence.Broadcaster
	relay    *signaling.Relay
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

func NewDispatcher(sessions *session.Manager, svc *chat.Service, pb *presence.Broadcaster, relay *signaling.Relay, m *metrics.Metrics, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{sessions: sessions, chat: svc, presence: pb, relay: relay, metrics: m, log: log}
}

func (d *Dispatcher) Dispatch(ctx context.Context, p Peer, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.fail(p, "", "", apperr.Invalid("malformed frame"))
		return
	}
	d.count(env.Type)

	switch env.Type {
	case InMessageSend:
		var in sendPayload
		if !d.decode(p, env, &in) {
			return
		}
		if in.Type == "" {
			in.Type = string(domain.MessageText)
		}
		view, err := d.chat.SendMessage(ctx, p.User.ID, chat.SendInput{
			ConversationID: in.ConversationID,
			Type:           domain.MessageType(in.Type),
			Content:        in.Content,
			MediaURL:       in.MediaURL,
			ReplyToID:      in.ReplyToID,
		}, p.Conn.ID())
		if err != nil {
			d.fail(p, env.Type, in.TempID, err)
			return
		}
		p.Conn.Deliver(hub.Event{Type: hub.EventMessageSent, Payload: SentPayload{MessageView: view, TempID: in.TempID}})

	case InMessageRead:
		var in readPayload
		if !d.decode(p, env, &in) {
			return
		}
		if _, err := d.chat.MarkRead(ctx, p.User.ID, in.ConversationID, in.MessageIDs, p.Conn.ID()); err != nil {
			d.fail(p, env.Type, "", err)
		}

	case InMessageDel:
		var in deletePayload
		if !d.decode(p, env, &in) {
			return
		}
		if _, err := d.chat.DeleteMessage(ctx, p.User.ID, in.MessageID); err != nil {
			d.fail(p, env.Type, "", err)
		}

	case InTypingStart, InTypingStop:
		var in conversationPayload
		if !d.decode(p, env, &in) {
			return
		}
		if env.Type == InTypingStart {
			d.presence.TypingStart(p.Conn, p.User.FullName, in.ConversationID)
		} else {
			d.presence.TypingStop(p.Conn, p.User.FullName, in.ConversationID)
		}

	case InRoomJoin:
		var in conversationPayload
		if !d.decode(p, env, &in) {
			return
		}
		if err := d.sessions.Join(ctx, p.User.ID, in.ConversationID, p.Conn); err != nil {
			d.fail(p, env.Type, "", err)
		}

	case InCallOffer:
		var in offerPayload
		if !d.decode(p, env, &in) || !d.require(p, env.Type, in.TargetUserID, "targetUserId") {
			return
		}
		caller := signaling.Caller{ID: p.User.ID, Name: p.User.FullName, Avatar: p.User.AvatarURL}
		d.relay.Offer(p.Conn, caller, in.TargetUserID, in.Offer, in.Type)

	case InCallAnswer:
		var in answerPayload
		if !d.decode(p, env, &in) || !d.require(p, env.Type, in.CallerID, "callerId") {
			return
		}
		d.relay.Answer(p.User.ID, in.CallerID, in.Answer)

	case InCallICE:
		var in icePayload
		if !d.decode(p, env, &in) || !d.require(p, env.Type, in.TargetUserID, "targetUserId") {
			return
		}
		d.relay.ICECandidate(p.User.ID, in.TargetUserID, in.Candidate)

	case InCallEnd:
		var in targetPayload
		if !d.decode(p, env, &in) || !d.require(p, env.Type, in.TargetUserID, "targetUserId") {
			return
		}
		d.relay.End(p.User.ID, in.TargetUserID)

	case InCallReject:
		var in targetPayload
		if !d.decode(p, env, &in) || !d.require(p, env.Type, in.CallerID, "callerId") {
			return
		}
		d.relay.Reject(p.User.ID, in.CallerID)

	default:
		d.fail(p, env.Type, "", apperr.Invalid("unknown event "+env.Type))
	}
}

func (d *Dispatcher) decode(p Peer, env Envelope, v any) bool {
	if len(env.Payload) == 0 {
		d.fail(p, env.Type, "", apperr.Invalid("payload is required"))
		return false
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		d.fail(p, env.Type, "", apperr.Invalid("malformed payload"))
		return false
	}
	return true
}

func (d *Dispatcher) require(p Peer, event, value, field string) bool {
	if value == "" {
		d.fail(p, event, "", apperr.Invalid(field+" is required"))
		return false
	}
	return true
}

// Throttled answers a frame the connection's inbound limiter refused. The error names the
// event and, for message:send, echoes the tempId so the client can mark that send failed.
// It is ephemeral: a client flooding a full queue loses the notices, not the connection.
func (d *Dispatcher) Throttled(p Peer, data []byte) {
	var env Envelope
	var event, tempID string
	if json.Unmarshal(data, &env) == nil {
		event = env.Type
		if env.Type == InMessageSend && len(env.Payload) > 0 {
			var in sendPayload
			if json.Unmarshal(env.Payload, &in) == nil {
				tempID = in.TempID
			}
		}
	}
	d.log.Debugw("inbound rate limit", "user_id", p.User.ID, "conn_id", p.Conn.ID(), "event", event)
	if d.metrics != nil {
		d.metrics.Throttled.Inc()
	}
	p.Conn.Deliver(errorEvent(apperr.ErrRateLimited, event, tempID, true))
}

// fail reports err to the originating connection only.
func (d *Dispatcher) fail(p Peer, event, tempID string, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal || code == apperr.CodeStoreUnavailable {
		d.log.Errorw("event failed", "event", event, "user_id", p.User.ID, "err", err)
	}
	p.Conn.Deliver(errorEvent(err, event, tempID, false))
}

func errorEvent(err error, event, tempID string, ephemeral bool) hub.Event {
	return hub.Event{Type: hub.EventError, Ephemeral: ephemeral, Payload: ErrorPayload{
		Code:    apperr.CodeOf(err),
		Message: apperr.Message(err),
		Event:   event,
		TempID:  tempID,
	}}
}

func (d *Dispatcher) count(typ string) {
	if d.metrics == nil {
		return
	}
	switch typ {
	case InMessageSend, InMessageRead, InMessageDel, InTypingStart, InTypingStop, InRoomJoin,
		InCallOffer, InCallAnswer, InCallICE, InCallEnd, InCallReject:
	default:
		typ = inUnrecognized
	}
	d.metrics.InboundEvents.WithLabelValues(typ).Inc()
}
