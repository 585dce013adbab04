// Package rtc wraps the pion peer-to-peer transport behind the
// core.MediaSession port. One Connection per call attempt; it owns the
// captured local devices and every transport resource until Close.
package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/call"
	"github.com/dchudnov/campuscall/internal/core"
	"github.com/dchudnov/campuscall/internal/signaling"
)

type Connection struct {
	pc         *webrtc.PeerConnection
	closeMedia func()
	closeOnce  sync.Once

	mu sync.Mutex
	// Negotiation order bookkeeping. Offer and answer are each valid once;
	// an answer without a prior local offer is programmer error.
	offerCreated bool
	remoteSet    bool
	// Candidates that arrived before the remote description; applied in
	// arrival order once it lands.
	pending []webrtc.ICECandidateInit
	// Live tracks parked by the control surface (mute / camera off).
	paused map[*webrtc.RTPSender]webrtc.TrackLocal

	onICE   func(signaling.Candidate)
	onTrack func(core.RemoteTrack)
	onState func(connected bool)
}

func newConnection(pc *webrtc.PeerConnection, closeMedia func()) *Connection {
	c := &Connection{
		pc:         pc,
		closeMedia: closeMedia,
		paused:     make(map[*webrtc.RTPSender]webrtc.TrackLocal),
	}
	c.bind()
	return c
}

// bind configures the pion callbacks once, before any negotiation starts.
func (c *Connection) bind() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(toWireCandidate(cand.ToJSON()))
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).Str("stream_id", track.StreamID()).Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(core.RemoteTrack{
				Kind:     track.Kind().String(),
				ID:       track.ID(),
				StreamID: track.StreamID(),
			})
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			fn(true)
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			fn(false)
		}
	})
}

func (c *Connection) OnLocalCandidate(fn func(signaling.Candidate)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnRemoteTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnStateChange(fn func(connected bool)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// CreateOffer produces the local description for the caller side, waiting
// for candidate gathering so the SDP is complete even when the counterpart
// ignores trickled candidates.
func (c *Connection) CreateOffer(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.offerCreated {
		c.mu.Unlock()
		return "", call.ErrNegotiationOutOfOrder
	}
	c.offerCreated = true
	c.mu.Unlock()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return c.pc.LocalDescription().SDP, nil
}

// AcceptOffer applies the remote offer and produces the local answer for
// the callee side.
func (c *Connection) AcceptOffer(ctx context.Context, offerSDP string) (string, error) {
	c.mu.Lock()
	if c.offerCreated || c.remoteSet {
		c.mu.Unlock()
		return "", call.ErrNegotiationOutOfOrder
	}
	c.mu.Unlock()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	c.flushPending()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return c.pc.LocalDescription().SDP, nil
}

// AcceptAnswer applies the remote answer to a previously created offer.
func (c *Connection) AcceptAnswer(answerSDP string) error {
	c.mu.Lock()
	if !c.offerCreated || c.remoteSet {
		c.mu.Unlock()
		return call.ErrNegotiationOutOfOrder
	}
	c.mu.Unlock()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.flushPending()
	return nil
}

// AddRemoteCandidate applies one remote candidate, or buffers it when the
// remote description has not been applied yet — candidate order relative to
// description application is not guaranteed by the signaling path.
func (c *Connection) AddRemoteCandidate(cand signaling.Candidate) error {
	ci := fromWireCandidate(cand)
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

// flushPending marks the remote description applied and drains buffered
// candidates in arrival order.
func (c *Connection) flushPending() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("buffered candidate rejected")
		}
	}
}

// SetAudioEnabled parks or restores the local audio tracks without
// renegotiation.
func (c *Connection) SetAudioEnabled(enabled bool) error {
	return c.setKindEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

// SetVideoEnabled parks or restores the local video tracks without
// renegotiation.
func (c *Connection) SetVideoEnabled(enabled bool) error {
	return c.setKindEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

func (c *Connection) setKindEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sender := range c.pc.GetSenders() {
		if enabled {
			if t, ok := c.paused[sender]; ok && t.Kind() == kind {
				if err := sender.ReplaceTrack(t); err != nil {
					return err
				}
				delete(c.paused, sender)
			}
			continue
		}
		t := sender.Track()
		if t == nil || t.Kind() != kind {
			continue
		}
		if err := sender.ReplaceTrack(nil); err != nil {
			return err
		}
		c.paused[sender] = t
	}
	return nil
}

// Close stops all local capture and the transport. Idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.closeMedia != nil {
			c.closeMedia()
		}
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Msg("closed")
		}
	})
}

func toWireCandidate(ci webrtc.ICECandidateInit) signaling.Candidate {
	return signaling.Candidate{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

func fromWireCandidate(c signaling.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}
