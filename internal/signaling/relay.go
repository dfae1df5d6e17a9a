// Package signaling forwards WebRTC call-setup payloads between two users. It keeps no
// call state and never looks inside the payloads.
package signaling

import (
	"encoding/json"

	"github.com/fathima-sithara/churchconnect/internal/hub"
)

// Caller is the identity attached to an incoming call.
type Caller struct {
	ID     string
	Name   string
	Avatar string
}

type IncomingPayload struct {
	CallerID     string          `json:"callerId"`
	CallerName   string          `json:"callerName"`
	CallerAvatar string          `json:"callerAvatar,omitempty"`
	Offer        json.RawMessage `json:"offer"`
	Type         string          `json:"type"`
}

type UnavailablePayload struct {
	TargetUserID string `json:"targetUserId"`
}

type AnsweredPayload struct {
	Answer     json.RawMessage `json:"answer"`
	AnswererID string          `json:"answererId"`
}

type ICEPayload struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

type ByPayload struct {
	By string `json:"by"`
}

// Router resolves a user to their live connections.
type Router interface {
	SendToUser(userID string, ev hub.Event) int
}

type Relay struct {
	router Router
}

func NewRelay(r Router) *Relay {
	return &Relay{router: r}
}

// Offer rings every connection of target. When target has none, origin gets call:unavailable.
func (r *Relay) Offer(origin hub.Conn, caller Caller, target string, offer json.RawMessage, mediaKind string) {
	n := r.router.SendToUser(target, hub.Event{
		Type: hub.EventCallIncoming,
		Payload: IncomingPayload{
			CallerID:     caller.ID,
			CallerName:   caller.Name,
			CallerAvatar: caller.Avatar,
			Offer:        offer,
			Type:         mediaKind,
		},
	})
	if n == 0 {
		origin.Deliver(hub.Event{Type: hub.EventCallUnavailable, Payload: UnavailablePayload{TargetUserID: target}})
	}
}

func (r *Relay) Answer(from, callerID string, answer json.RawMessage) {
	r.router.SendToUser(callerID, hub.Event{Type: hub.EventCallAnswered, Payload: AnsweredPayload{Answer: answer, AnswererID: from}})
}

func (r *Relay) ICECandidate(from, target string, candidate json.RawMessage) {
	r.router.SendToUser(target, hub.Event{Type: hub.EventCallICE, Payload: ICEPayload{Candidate: candidate, From: from}})
}

func (r *Relay) End(from, target string) {
	r.router.SendToUser(target, hub.Event{Type: hub.EventCallEnded, Payload: ByPayload{By: from}})
}

func (r *Relay) Reject(from, callerID string) {
	r.router.SendToUser(callerID, hub.Event{Type: hub.EventCallRejected, Payload: ByPayload{By: from}})
}
