// Package signaling defines the wire unit exchanged between two call parties
// through the relay. Events are created on a local state transition, sent
// once, consumed exactly once by the counterpart and then discarded; the
// relay never stores them.
package signaling

import (
	"errors"

	"github.com/dchudnov/campuscall/internal/domain"
)

// EventType discriminates the signaling envelope.
type EventType string

const (
	// EventCallInvite is sent by the caller to start a call attempt.
	EventCallInvite EventType = "call-invite"
	// EventCallRinging is sent back by the callee once the invite was
	// surfaced to its user.
	EventCallRinging EventType = "call-ringing"
	// EventCallAccept is sent by the callee when its user picks up.
	EventCallAccept EventType = "call-accept"
	// EventCallReject is sent by the callee on decline or busy.
	EventCallReject EventType = "call-reject"
	// EventOffer carries the caller's SDP offer.
	EventOffer EventType = "offer"
	// EventAnswer carries the callee's SDP answer.
	EventAnswer EventType = "answer"
	// EventICECandidate carries one network-reachability candidate.
	EventICECandidate EventType = "ice-candidate"
	// EventCallEnd is sent by either party to tear the session down.
	EventCallEnd EventType = "call-end"
	// EventCallUnavailable is bounced by the relay when the recipient has
	// no live connection, so the caller fails fast instead of ringing
	// into the void.
	EventCallUnavailable EventType = "call-unavailable"
)

// Candidate mirrors the browser's RTCIceCandidateInit. Pointer fields stay
// nil when the sender omitted them.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Event is the signaling envelope. RoomID is the sole correlation key: a
// receiver matches it against its live session and silently discards
// everything else.
type Event struct {
	Type   EventType     `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	From   domain.UserID `json:"fromParty"`
	To     domain.UserID `json:"toParty"`

	Kind            domain.CallKind `json:"kind,omitempty"`            // call-invite
	SDP             string          `json:"sdp,omitempty"`             // offer, answer
	Candidate       *Candidate      `json:"candidate,omitempty"`       // ice-candidate
	Reason          string          `json:"reason,omitempty"`          // call-reject, call-unavailable
	DurationSeconds int             `json:"durationSeconds,omitempty"` // call-end
}

var (
	ErrMissingRoom    = errors.New("signaling: event without roomId")
	ErrMissingParties = errors.New("signaling: event without from/to party")
	ErrUnknownType    = errors.New("signaling: unknown event type")
)

// Validate checks the envelope before the relay routes it. Payload fields
// are opaque to the relay and deliberately not inspected here.
func (e *Event) Validate() error {
	switch e.Type {
	case EventCallInvite, EventCallRinging, EventCallAccept, EventCallReject,
		EventOffer, EventAnswer, EventICECandidate, EventCallEnd,
		EventCallUnavailable:
	default:
		return ErrUnknownType
	}
	if e.RoomID == "" {
		return ErrMissingRoom
	}
	if e.From == "" || e.To == "" {
		return ErrMissingParties
	}
	return nil
}

// reply builds an envelope going back to the sender of e, same room.
func reply(e *Event, t EventType) Event {
	return Event{Type: t, RoomID: e.RoomID, From: e.To, To: e.From}
}

// Unavailable is the relay's bounce for an undeliverable invite.
func Unavailable(invite *Event) Event {
	ev := reply(invite, EventCallUnavailable)
	ev.Reason = "peer_offline"
	return ev
}

// Busy builds the automatic reject a client sends when an invite arrives
// while another call occupies its call slot.
func Busy(invite *Event) Event {
	ev := reply(invite, EventCallReject)
	ev.Reason = string(domain.ReasonBusy)
	return ev
}
