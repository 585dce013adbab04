package core

import (
	"context"

	"github.com/dchudnov/campuscall/internal/domain"
	"github.com/dchudnov/campuscall/internal/signaling"
)

// RemoteTrack describes an inbound media stream exposed by the peer
// transport. Audio and video arrive separately; zero or more per session.
type RemoteTrack struct {
	Kind     string
	ID       string
	StreamID string
}

// MediaSession wraps one peer-to-peer transport for the lifetime of a single
// call attempt. Created with local microphone (and camera for video calls)
// already captured; Close releases every local and remote resource.
//
// Negotiation is strictly ordered: the caller uses CreateOffer then
// AcceptAnswer, the callee uses AcceptOffer. Calling these out of order is a
// programmer error and fails with ErrNegotiationOutOfOrder from the call
// package. Remote candidates arriving before the remote description are
// buffered by the implementation and flushed once it is applied.
type MediaSession interface {
	// CreateOffer produces the local SDP offer (caller side).
	CreateOffer(ctx context.Context) (string, error)
	// AcceptOffer applies the remote offer and produces the local answer
	// (callee side).
	AcceptOffer(ctx context.Context, offer string) (string, error)
	// AcceptAnswer applies the remote answer to a previously created offer.
	AcceptAnswer(answer string) error
	// AddRemoteCandidate applies or buffers one remote candidate.
	AddRemoteCandidate(c signaling.Candidate) error

	// OnLocalCandidate sets a callback for newly gathered local candidates.
	OnLocalCandidate(fn func(signaling.Candidate))
	// OnRemoteTrack sets a callback invoked per inbound remote track.
	OnRemoteTrack(fn func(RemoteTrack))
	// OnStateChange reports transport-level connectivity. Advisory only:
	// the session engine drives its connected transition from the
	// signaling handshake, never from this callback.
	OnStateChange(fn func(connected bool))

	// SetAudioEnabled and SetVideoEnabled mutate the live local tracks
	// without renegotiation.
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error

	Close()
}

// MediaFactory acquires local devices and builds a MediaSession per call.
// Exactly one live session per client: the previous session must be fully
// closed before the next acquisition, since concurrent device access is
// undefined behavior in the capture layer.
type MediaFactory interface {
	NewSession(ctx context.Context, kind domain.CallKind) (MediaSession, error)
}
