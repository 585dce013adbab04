package wsclient

import (
	"context"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	httpadapter "github.com/dchudnov/campuscall/internal/adapters/http"
	"github.com/dchudnov/campuscall/internal/config"
	"github.com/dchudnov/campuscall/internal/domain"
	"github.com/dchudnov/campuscall/internal/relay"
	"github.com/dchudnov/campuscall/internal/signaling"
)

// startRelay spins up a real relay over httptest and returns its ws URL
// plus the registry, so tests can drop connections server-side.
func startRelay(t *testing.T) (string, *relay.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "release", Secret: "test-secret"}

	reg := relay.NewRegistry()
	rt := relay.NewRouter(reg, relay.NewInviteLimiter(100, time.Minute), relay.ThresholdPolicy{MaxDrops: 4})
	ctl := relay.NewWSController(rt)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(httpadapter.SetupRouter(ctx, cfg, ctl))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal", reg
}

func connect(t *testing.T, url string, identity domain.UserID) *Channel {
	t.Helper()
	ch, err := Connect(url, identity)
	if err != nil {
		t.Fatalf("Connect(%s): %v", identity, err)
	}
	t.Cleanup(ch.Close)
	return ch
}

func recv(t *testing.T, ch *Channel) signaling.Event {
	t.Helper()
	select {
	case ev := <-ch.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
		return signaling.Event{}
	}
}

func TestSendAndReceiveThroughRelay(t *testing.T) {
	url, _ := startRelay(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")

	out := signaling.Event{
		Type: signaling.EventOffer, RoomID: "call_e2e",
		From: "alice", To: "bob", SDP: "v=0 test-offer",
	}
	if err := alice.Send(out); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := recv(t, bob)
	if got.Type != signaling.EventOffer || got.RoomID != "call_e2e" || got.SDP != "v=0 test-offer" {
		t.Fatalf("received %+v", got)
	}

	// And the other direction over the same sockets.
	back := signaling.Event{
		Type: signaling.EventAnswer, RoomID: "call_e2e",
		From: "bob", To: "alice", SDP: "v=0 test-answer",
	}
	if err := bob.Send(back); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := recv(t, alice); got.Type != signaling.EventAnswer {
		t.Fatalf("received %+v", got)
	}
}

func TestOrderPreservedWhileConnected(t *testing.T) {
	url, _ := startRelay(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")

	for i := 0; i < 5; i++ {
		ev := signaling.Event{
			Type: signaling.EventICECandidate, RoomID: "call_e2e",
			From: "alice", To: "bob",
			Candidate: &signaling.Candidate{Candidate: string(rune('a' + i))},
		}
		if err := alice.Send(ev); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		got := recv(t, bob)
		if got.Candidate == nil || got.Candidate.Candidate != string(rune('a'+i)) {
			t.Fatalf("event #%d out of order: %+v", i, got)
		}
	}
}

func TestInviteToOfflinePeerBounces(t *testing.T) {
	url, _ := startRelay(t)
	alice := connect(t, url, "alice")

	inv := signaling.Event{
		Type: signaling.EventCallInvite, RoomID: "call_e2e",
		From: "alice", To: "nobody", Kind: domain.CallVoice,
	}
	if err := alice.Send(inv); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := recv(t, alice)
	if got.Type != signaling.EventCallUnavailable || got.RoomID != "call_e2e" {
		t.Fatalf("expected call-unavailable bounce, got %+v", got)
	}
}

// writePumps counts live write pumps across the process.
func writePumps() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "(*Channel).writeLoop")
}

func waitClients(t *testing.T, reg *relay.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for reg.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", reg.Count(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReconnectReplacesPumps(t *testing.T) {
	url, reg := startRelay(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")
	waitClients(t, reg, 2)
	// Each connected channel runs exactly one write pump; a freshly spawned
	// pump goroutine may not be scheduled yet, so wait for both before
	// recording the baseline.
	base := writePumps()
	for deadline := time.Now().Add(3 * time.Second); base < 2 && time.Now().Before(deadline); base = writePumps() {
		time.Sleep(10 * time.Millisecond)
	}

	// Drop alice server-side a few times; each drop forces a full
	// reconnect cycle on the client.
	for i := 0; i < 4; i++ {
		reg.Kick("alice")
		waitClients(t, reg, 2)
	}

	deadline := time.Now().Add(3 * time.Second)
	for writePumps() > base {
		if time.Now().After(deadline) {
			t.Fatalf("%d write pumps alive after 4 reconnects, want %d — old pumps must exit before redial", writePumps(), base)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The surviving pump is the new connection's: sends still go through.
	ev := signaling.Event{Type: signaling.EventCallEnd, RoomID: "call_reconnect", From: "alice", To: "bob"}
	sendDeadline := time.Now().Add(3 * time.Second)
	for {
		if err := alice.Send(ev); err == nil {
			break
		}
		if time.Now().After(sendDeadline) {
			t.Fatal("reconnected channel never accepted a send")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := recv(t, bob); got.Type != signaling.EventCallEnd || got.RoomID != "call_reconnect" {
		t.Fatalf("received %+v", got)
	}
}

func TestConnectFailsFastWhenRelayUnreachable(t *testing.T) {
	_, err := Connect("ws://127.0.0.1:1/api/ws/signal", "alice")
	if err == nil {
		t.Fatal("Connect to an unreachable relay must fail")
	}
}

func TestSendAfterCloseRejected(t *testing.T) {
	url, _ := startRelay(t)
	ch, err := Connect(url, "alice")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ch.Close()

	ev := signaling.Event{Type: signaling.EventCallEnd, RoomID: "call_e2e", From: "alice", To: "bob"}
	if err := ch.Send(ev); err == nil {
		t.Fatal("Send after Close must be rejected, not queued")
	}
}
