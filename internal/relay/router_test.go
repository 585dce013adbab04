package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dchudnov/campuscall/internal/domain"
	"github.com/dchudnov/campuscall/internal/signaling"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (c *fakeConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) received() []signaling.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]signaling.Event, 0, len(c.frames))
	for _, f := range c.frames {
		var ev signaling.Event
		if json.Unmarshal(f, &ev) == nil {
			out = append(out, ev)
		}
	}
	return out
}

func marshal(t *testing.T, ev signaling.Event) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func newTestRouter(maxDrops int) (*Router, *Registry) {
	reg := NewRegistry()
	rt := NewRouter(reg, NewInviteLimiter(3, time.Minute), ThresholdPolicy{MaxDrops: maxDrops})
	return rt, reg
}

func TestRouteDeliversToRecipient(t *testing.T) {
	rt, reg := newTestRouter(3)
	bob := &fakeConn{}
	reg.Bind("bob", bob, nil)

	ev := signaling.Event{Type: signaling.EventOffer, RoomID: "call_x", From: "alice", To: "bob", SDP: "v=0"}
	rt.Route("alice", marshal(t, ev))

	got := bob.received()
	if len(got) != 1 || got[0].Type != signaling.EventOffer || got[0].SDP != "v=0" {
		t.Fatalf("recipient got %+v", got)
	}
}

func TestRouteRejectsSpoofedSender(t *testing.T) {
	rt, reg := newTestRouter(3)
	bob := &fakeConn{}
	reg.Bind("bob", bob, nil)

	ev := signaling.Event{Type: signaling.EventOffer, RoomID: "call_x", From: "alice", To: "bob", SDP: "v=0"}
	rt.Route("mallory", marshal(t, ev))

	if len(bob.received()) != 0 {
		t.Fatal("spoofed frame must not be delivered")
	}
}

func TestRouteDropsInvalidFrames(t *testing.T) {
	rt, reg := newTestRouter(3)
	bob := &fakeConn{}
	reg.Bind("bob", bob, nil)

	rt.Route("alice", []byte("{not json"))
	rt.Route("alice", marshal(t, signaling.Event{Type: "join-room", RoomID: "call_x", From: "alice", To: "bob"}))
	rt.Route("alice", marshal(t, signaling.Event{Type: signaling.EventOffer, From: "alice", To: "bob"}))

	if len(bob.received()) != 0 {
		t.Fatal("invalid frames must not be delivered")
	}
}

func TestOfflineInviteBounces(t *testing.T) {
	rt, reg := newTestRouter(3)
	alice := &fakeConn{}
	reg.Bind("alice", alice, nil)

	inv := signaling.Event{Type: signaling.EventCallInvite, RoomID: "call_x", From: "alice", To: "bob", Kind: domain.CallVoice}
	rt.Route("alice", marshal(t, inv))

	got := alice.received()
	if len(got) != 1 || got[0].Type != signaling.EventCallUnavailable {
		t.Fatalf("expected call-unavailable bounce, got %+v", got)
	}
	if got[0].RoomID != "call_x" || got[0].To != "alice" {
		t.Fatalf("bounce misaddressed: %+v", got[0])
	}
}

func TestOfflineNonInviteDroppedSilently(t *testing.T) {
	rt, reg := newTestRouter(3)
	alice := &fakeConn{}
	reg.Bind("alice", alice, nil)

	ev := signaling.Event{Type: signaling.EventCallEnd, RoomID: "call_x", From: "alice", To: "bob"}
	rt.Route("alice", marshal(t, ev))

	if len(alice.received()) != 0 {
		t.Fatal("non-invite to an offline peer must be dropped without a bounce")
	}
}

func TestBackpressureKicksAfterThreshold(t *testing.T) {
	rt, reg := newTestRouter(2)
	bob := &fakeConn{sendErr: ErrBackpressure}
	reg.Bind("bob", bob, nil)

	ev := signaling.Event{Type: signaling.EventICECandidate, RoomID: "call_x", From: "alice", To: "bob",
		Candidate: &signaling.Candidate{Candidate: "candidate:1 1 udp 1 192.0.2.1 1 typ host"}}
	data := marshal(t, ev)

	rt.Route("alice", data)
	if bob.isClosed() {
		t.Fatal("one drop must not kick")
	}
	rt.Route("alice", data)
	if !bob.isClosed() {
		t.Fatal("recipient must be kicked at the drop threshold")
	}
	if _, ok := reg.Get("bob"); ok {
		t.Fatal("kicked recipient must leave the registry")
	}
}

func TestDeliveryResetsDropCounter(t *testing.T) {
	rt, reg := newTestRouter(2)
	bob := &fakeConn{sendErr: ErrBackpressure}
	reg.Bind("bob", bob, nil)

	ev := signaling.Event{Type: signaling.EventCallEnd, RoomID: "call_x", From: "alice", To: "bob"}
	data := marshal(t, ev)

	rt.Route("alice", data) // drop 1
	bob.mu.Lock()
	bob.sendErr = nil
	bob.mu.Unlock()
	rt.Route("alice", data) // delivered, counter resets
	bob.mu.Lock()
	bob.sendErr = ErrBackpressure
	bob.mu.Unlock()
	rt.Route("alice", data) // drop 1 again

	if bob.isClosed() {
		t.Fatal("counter must reset on successful delivery")
	}
}

func TestInviteRateLimitBounces(t *testing.T) {
	rt, reg := newTestRouter(3)
	alice := &fakeConn{}
	bob := &fakeConn{}
	reg.Bind("alice", alice, nil)
	reg.Bind("bob", bob, nil)

	inv := signaling.Event{Type: signaling.EventCallInvite, RoomID: "call_x", From: "alice", To: "bob", Kind: domain.CallVoice}
	data := marshal(t, inv)
	for i := 0; i < 3; i++ {
		rt.Route("alice", data)
	}
	if n := len(bob.received()); n != 3 {
		t.Fatalf("first three invites must pass, got %d", n)
	}

	rt.Route("alice", data)
	if n := len(bob.received()); n != 3 {
		t.Fatal("rate-limited invite must not reach the recipient")
	}
	got := alice.received()
	if len(got) != 1 || got[0].Type != signaling.EventCallUnavailable {
		t.Fatalf("rate-limited invite must bounce, got %+v", got)
	}

	// Non-invite traffic stays unthrottled.
	end := signaling.Event{Type: signaling.EventCallEnd, RoomID: "call_x", From: "alice", To: "bob"}
	rt.Route("alice", marshal(t, end))
	if n := len(bob.received()); n != 4 {
		t.Fatal("rate limiter must only throttle invites")
	}
}
