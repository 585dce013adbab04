package rtc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dchudnov/campuscall/internal/call"
	"github.com/dchudnov/campuscall/internal/signaling"
)

// newTestConn builds a Connection around a bare peer connection with one
// audio transceiver, no device capture.
func newTestConn(t *testing.T, closeMedia func()) *Connection {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	c := newConnection(pc, closeMedia)
	t.Cleanup(c.Close)
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	ctx := testCtx(t)
	caller := newTestConn(t, nil)
	callee := newTestConn(t, nil)

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer, "m=audio") {
		t.Fatalf("offer lacks audio section:\n%s", offer)
	}

	answer, err := callee.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if !strings.Contains(answer, "m=audio") {
		t.Fatalf("answer lacks audio section:\n%s", answer)
	}

	if err := caller.AcceptAnswer(answer); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}
}

func TestNegotiationOrderEnforced(t *testing.T) {
	ctx := testCtx(t)

	t.Run("answer before offer", func(t *testing.T) {
		c := newTestConn(t, nil)
		if err := c.AcceptAnswer("v=0"); !errors.Is(err, call.ErrNegotiationOutOfOrder) {
			t.Fatalf("err = %v, want ErrNegotiationOutOfOrder", err)
		}
	})

	t.Run("double offer", func(t *testing.T) {
		c := newTestConn(t, nil)
		if _, err := c.CreateOffer(ctx); err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
		if _, err := c.CreateOffer(ctx); !errors.Is(err, call.ErrNegotiationOutOfOrder) {
			t.Fatalf("err = %v, want ErrNegotiationOutOfOrder", err)
		}
	})

	t.Run("accept offer on the caller side", func(t *testing.T) {
		caller := newTestConn(t, nil)
		peer := newTestConn(t, nil)
		offer, err := peer.CreateOffer(ctx)
		if err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
		if _, err := caller.CreateOffer(ctx); err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
		if _, err := caller.AcceptOffer(ctx, offer); !errors.Is(err, call.ErrNegotiationOutOfOrder) {
			t.Fatalf("err = %v, want ErrNegotiationOutOfOrder", err)
		}
	})
}

func TestCandidateBufferedUntilRemoteDescription(t *testing.T) {
	ctx := testCtx(t)
	caller := newTestConn(t, nil)
	callee := newTestConn(t, nil)

	mid := "0"
	cand := signaling.Candidate{
		Candidate: "candidate:2130706431 1 udp 2130706431 127.0.0.1 54321 typ host",
		SDPMid:    &mid,
	}
	if err := callee.AddRemoteCandidate(cand); err != nil {
		t.Fatalf("pre-description candidate must buffer, got %v", err)
	}
	callee.mu.Lock()
	buffered := len(callee.pending)
	callee.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("pending = %d, want 1", buffered)
	}

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := callee.AcceptOffer(ctx, offer); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}

	callee.mu.Lock()
	buffered = len(callee.pending)
	remoteSet := callee.remoteSet
	callee.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("pending not drained, %d left", buffered)
	}
	if !remoteSet {
		t.Fatal("remote description must be marked applied")
	}

	// After the description is in, candidates apply directly.
	if err := callee.AddRemoteCandidate(cand); err != nil {
		t.Fatalf("post-description candidate: %v", err)
	}
}

func TestCloseIsIdempotentAndReleasesCapture(t *testing.T) {
	released := 0
	c := newTestConn(t, func() { released++ })

	c.Close()
	c.Close()
	if released != 1 {
		t.Fatalf("capture released %d times, want 1", released)
	}
}

func TestWireCandidateConversionKeepsOptionalFields(t *testing.T) {
	mid := "0"
	var line uint16 = 1
	ci := webrtc.ICECandidateInit{Candidate: "candidate:x", SDPMid: &mid, SDPMLineIndex: &line}

	wire := toWireCandidate(ci)
	back := fromWireCandidate(wire)
	if back.Candidate != ci.Candidate || back.SDPMid == nil || *back.SDPMid != mid ||
		back.SDPMLineIndex == nil || *back.SDPMLineIndex != line {
		t.Fatalf("round trip lost fields: %+v", back)
	}

	bare := fromWireCandidate(signaling.Candidate{Candidate: "candidate:y"})
	if bare.SDPMid != nil || bare.SDPMLineIndex != nil {
		t.Fatal("absent optional fields must stay nil")
	}
}
