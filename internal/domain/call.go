package domain

import "github.com/google/uuid"

// RoomID is the opaque token correlating every signaling event of one call
// attempt. Allocated by the caller when dialing; never reused once the
// attempt ends.
type RoomID string

func NewRoomID() RoomID {
	return RoomID("call_" + uuid.NewString())
}

func (id RoomID) String() string { return string(id) }

// CallKind fixes the media profile for the whole session.
type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

// CallDirection is set once at session creation.
type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

// CallState is the session lifecycle position.
//
//	idle -> dialing -> ringing-remote -> connected -> ended   (caller)
//	idle -> ringing-local -> answering -> connected -> ended  (callee)
//
// Ended is terminal; an ended session is never reused.
type CallState string

const (
	StateIdle          CallState = "idle"
	StateDialing       CallState = "dialing"
	StateRingingRemote CallState = "ringing-remote"
	StateRingingLocal  CallState = "ringing-local"
	StateAnswering     CallState = "answering"
	StateConnected     CallState = "connected"
	StateEnded         CallState = "ended"
)

// Terminal reports whether no further transitions are possible.
func (s CallState) Terminal() bool { return s == StateEnded }

// CallOutcome summarizes how a finished attempt went.
type CallOutcome string

const (
	OutcomeInitiated CallOutcome = "initiated"
	OutcomeConnected CallOutcome = "connected"
	OutcomeMissed    CallOutcome = "missed"
	OutcomeDeclined  CallOutcome = "declined"
	OutcomeEnded     CallOutcome = "ended"
)

// EndReason is carried on terminal transitions for logs and user-facing
// status strings.
type EndReason string

const (
	ReasonHangupLocal          EndReason = "hangup_local"
	ReasonHangupRemote         EndReason = "hangup_remote"
	ReasonRejected             EndReason = "rejected"
	ReasonDeclinedLocal        EndReason = "declined_local"
	ReasonNoAnswer             EndReason = "no_answer"
	ReasonBusy                 EndReason = "busy"
	ReasonMediaDenied          EndReason = "media_denied"
	ReasonSignalingUnavailable EndReason = "signaling_unavailable"
	ReasonPeerUnavailable      EndReason = "peer_unavailable"
	ReasonTransportFailure     EndReason = "transport_failure"
	ReasonNegotiationFailure   EndReason = "negotiation_failure"
)
