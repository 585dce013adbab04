package call

import "errors"

var (
	// ErrMediaAccessDenied is returned when microphone or camera
	// permission was refused. Treated as a local decline.
	ErrMediaAccessDenied = errors.New("call: media access denied")

	// ErrSignalingUnavailable is returned when the signaling channel
	// cannot reach the relay. Outbound calls fail fast; nothing retries.
	ErrSignalingUnavailable = errors.New("call: signaling unavailable")

	// ErrNegotiationOutOfOrder is adapter misuse, e.g. an answer applied
	// before any offer. Fatal for the session, never retried.
	ErrNegotiationOutOfOrder = errors.New("call: negotiation out of order")

	// ErrStaleEvent marks an inbound event whose roomId matches no live
	// session. Discarded without user-visible effect.
	ErrStaleEvent = errors.New("call: stale signaling event")

	// ErrPeerUnresponsive is raised when the ring timeout fires.
	// Surfaced to the user as "No answer".
	ErrPeerUnresponsive = errors.New("call: peer unresponsive")

	// ErrCallSlotBusy is returned from StartCall while a non-ended
	// session occupies the client's single call slot.
	ErrCallSlotBusy = errors.New("call: another call is in progress")

	// ErrNoActiveCall is returned by accept/decline without an incoming
	// session to act on.
	ErrNoActiveCall = errors.New("call: no active call")
)
