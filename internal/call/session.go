package call

import (
	"time"

	"github.com/dchudnov/campuscall/internal/domain"
)

// Session is the per-call state object. It is pure data plus transition
// methods; all sequencing and side effects (signaling, media, timers) belong
// to the Engine, which owns the single live Session and mutates it from one
// goroutine only.
type Session struct {
	RoomID      domain.RoomID
	Kind        domain.CallKind
	LocalParty  domain.UserID
	RemoteParty domain.UserID
	Direction   domain.CallDirection
	State       domain.CallState

	StartedAt   time.Time
	ConnectedAt time.Time

	// Control flags, mutated only by the control surface.
	Muted        bool
	VideoEnabled bool
	SpeakerOn    bool

	// Negotiation bookkeeping for the one-offer-one-answer invariant.
	offerSent     bool
	answerApplied bool

	EndReason domain.EndReason
}

func newOutgoingSession(local, remote domain.UserID, kind domain.CallKind, now time.Time) *Session {
	return &Session{
		RoomID:       domain.NewRoomID(),
		Kind:         kind,
		LocalParty:   local,
		RemoteParty:  remote,
		Direction:    domain.DirectionOutgoing,
		State:        domain.StateDialing,
		StartedAt:    now,
		VideoEnabled: kind == domain.CallVideo,
		SpeakerOn:    true,
	}
}

func newIncomingSession(room domain.RoomID, local, remote domain.UserID, kind domain.CallKind, now time.Time) *Session {
	return &Session{
		RoomID:       room,
		Kind:         kind,
		LocalParty:   local,
		RemoteParty:  remote,
		Direction:    domain.DirectionIncoming,
		State:        domain.StateRingingLocal,
		StartedAt:    now,
		VideoEnabled: kind == domain.CallVideo,
		SpeakerOn:    true,
	}
}

// Matches reports whether an event's correlation key belongs to this session.
func (s *Session) Matches(room domain.RoomID) bool {
	return s != nil && s.RoomID == room
}

// Live reports whether the session still occupies the call slot.
func (s *Session) Live() bool {
	return s != nil && !s.State.Terminal()
}

// markRingingRemote records that the callee surfaced the invite.
// Only meaningful while dialing.
func (s *Session) markRingingRemote() bool {
	if s.State != domain.StateDialing {
		return false
	}
	s.State = domain.StateRingingRemote
	return true
}

// markAnswering records the local user picking up an incoming call.
func (s *Session) markAnswering() bool {
	if s.State != domain.StateRingingLocal {
		return false
	}
	s.State = domain.StateAnswering
	return true
}

// markConnected enters connected once the handshake for this side is done:
// answer applied on the caller, answer sent on the callee. Idempotent so a
// duplicate answer is a no-op.
func (s *Session) markConnected(now time.Time) bool {
	switch s.State {
	case domain.StateDialing, domain.StateRingingRemote, domain.StateAnswering:
		s.State = domain.StateConnected
		s.ConnectedAt = now
		return true
	default:
		return false
	}
}

// end forces the terminal state. Idempotent: ending an ended session
// reports false and changes nothing, keeping the first reason.
func (s *Session) end(reason domain.EndReason) bool {
	if s.State.Terminal() {
		return false
	}
	s.State = domain.StateEnded
	s.EndReason = reason
	return true
}

// Outcome classifies a finished session for the transcript entry.
// Connected wins over everything: if ConnectedAt was ever set the attempt
// counts as connected regardless of how it later ended.
func (s *Session) Outcome() domain.CallOutcome {
	if !s.ConnectedAt.IsZero() {
		return domain.OutcomeConnected
	}
	switch s.EndReason {
	case domain.ReasonNoAnswer:
		return domain.OutcomeMissed
	case domain.ReasonRejected, domain.ReasonDeclinedLocal, domain.ReasonMediaDenied, domain.ReasonBusy:
		return domain.OutcomeDeclined
	case domain.ReasonHangupLocal, domain.ReasonHangupRemote:
		return domain.OutcomeEnded
	default:
		return domain.OutcomeInitiated
	}
}

// Duration is the connected time of the attempt, zero when never connected.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ConnectedAt)
}

// Snapshot is the read-only view the UI subscribes to.
type Snapshot struct {
	RoomID       domain.RoomID
	Kind         domain.CallKind
	RemoteParty  domain.UserID
	Direction    domain.CallDirection
	State        domain.CallState
	Muted        bool
	VideoEnabled bool
	SpeakerOn    bool
	EndReason    domain.EndReason
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		RoomID:       s.RoomID,
		Kind:         s.Kind,
		RemoteParty:  s.RemoteParty,
		Direction:    s.Direction,
		State:        s.State,
		Muted:        s.Muted,
		VideoEnabled: s.VideoEnabled,
		SpeakerOn:    s.SpeakerOn,
		EndReason:    s.EndReason,
	}
}
