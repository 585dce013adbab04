// Package call implements the peer-to-peer call layer of the portal's
// messaging component: the signaling protocol, the per-call session state
// machine and the teardown/transcript flow. Media transport internals are
// delegated to the rtc adapter behind core.MediaSession.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/core"
	"github.com/dchudnov/campuscall/internal/domain"
	"github.com/dchudnov/campuscall/internal/signaling"
)

// DefaultRingTimeout is how long an unanswered attempt rings before it is
// forced to ended with outcome missed. Mirrored on both sides.
const DefaultRingTimeout = 45 * time.Second

// Invite is surfaced to the UI when an incoming call needs a pick-up/decline
// decision.
type Invite struct {
	RoomID domain.RoomID
	From   domain.UserID
	Kind   domain.CallKind
}

// Engine owns the client's single call slot. Every signaling event, timer
// expiration, media callback and control command is executed as a discrete
// task on one goroutine (Run), so session state needs no locking; the only
// shared state is the read-side snapshot.
type Engine struct {
	self        domain.UserID
	signals     core.SignalChannel
	media       core.MediaFactory
	recorder    *Recorder
	ringTimeout time.Duration
	now         func() time.Time

	tasks chan func()
	done  chan struct{}
	once  sync.Once

	// Loop-owned; touched only from Run's goroutine.
	sess         *Session
	mediaSess    core.MediaSession
	ringTimer    *time.Timer
	pendingCands []signaling.Candidate

	onTransition  []func(Snapshot)
	onIncoming    []func(Invite)
	onRemoteTrack []func(core.RemoteTrack)

	mu   sync.RWMutex
	snap Snapshot
}

// NewEngine wires the session engine for one authenticated identity.
// Run must be started before any call operation.
func NewEngine(self domain.UserID, ch core.SignalChannel, media core.MediaFactory, rec *Recorder, ringTimeout time.Duration) *Engine {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Engine{
		self:        self,
		signals:     ch,
		media:       media,
		recorder:    rec,
		ringTimeout: ringTimeout,
		now:         time.Now,
		tasks:       make(chan func(), 64),
		done:        make(chan struct{}),
		snap:        Snapshot{State: domain.StateIdle},
	}
}

// OnTransition registers a callback fired after every state change, on the
// engine goroutine. Register before Run.
func (e *Engine) OnTransition(fn func(Snapshot)) {
	e.onTransition = append(e.onTransition, fn)
}

// OnIncoming registers a callback fired for each incoming invite.
func (e *Engine) OnIncoming(fn func(Invite)) {
	e.onIncoming = append(e.onIncoming, fn)
}

// OnRemoteTrack registers a callback fired when the peer transport exposes
// an inbound stream. May fire zero or more times per session.
func (e *Engine) OnRemoteTrack(fn func(core.RemoteTrack)) {
	e.onRemoteTrack = append(e.onRemoteTrack, fn)
}

// Snapshot returns the current session view. Safe from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Run processes events and tasks until ctx is cancelled. Blocking; start it
// on its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer e.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case ev, ok := <-e.signals.Events():
			if !ok {
				log.Warn().Str("module", "call").Msg("signaling channel closed")
				return
			}
			e.handleEvent(ctx, ev)
		case fn := <-e.tasks:
			fn()
		}
	}
}

// Close stops the engine; the live session, if any, is torn down by Run.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.done) })
}

func (e *Engine) shutdown() {
	e.finish(domain.ReasonHangupLocal, false)
}

// post hands a task to the engine goroutine. Tasks после остановки просто
// теряются — движок уже всё освободил.
func (e *Engine) post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// call posts a task and waits for its error, so the public API stays
// synchronous for the UI layer.
func (e *Engine) call(fn func() error) error {
	errc := make(chan error, 1)
	e.post(func() { errc <- fn() })
	select {
	case err := <-errc:
		return err
	case <-e.done:
		return ErrNoActiveCall
	}
}

// StartCall places an outgoing call. The slot must be free; media
// acquisition and the invite are asynchronous, the session is observable via
// Snapshot/OnTransition immediately in state dialing.
func (e *Engine) StartCall(ctx context.Context, remote domain.UserID, kind domain.CallKind) error {
	return e.call(func() error {
		if e.sess.Live() {
			return ErrCallSlotBusy
		}
		s := newOutgoingSession(e.self, remote, kind, e.now())
		e.sess = s
		e.publish()
		log.Info().Str("module", "call").Str("room", s.RoomID.String()).
			Str("to", string(remote)).Str("kind", string(kind)).Msg("dialing")
		go e.acquireForDial(ctx, s.RoomID, remote, kind)
		return nil
	})
}

// Accept picks up the current incoming call.
func (e *Engine) Accept(ctx context.Context) error {
	return e.call(func() error {
		s := e.sess
		if !s.Live() || !s.markAnswering() {
			return ErrNoActiveCall
		}
		e.publish()
		log.Info().Str("module", "call").Str("room", s.RoomID.String()).Msg("accepting")
		go e.acquireForAnswer(ctx, s.RoomID, s.RemoteParty, s.Kind)
		return nil
	})
}

// Decline rejects the current incoming call.
func (e *Engine) Decline() error {
	return e.call(func() error {
		s := e.sess
		if !s.Live() || s.State != domain.StateRingingLocal {
			return ErrNoActiveCall
		}
		ev := signaling.Event{
			Type: signaling.EventCallReject, RoomID: s.RoomID,
			From: e.self, To: s.RemoteParty,
			Reason: string(domain.ReasonDeclinedLocal),
		}
		if err := e.signals.Send(ev); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("reject not delivered")
		}
		e.finish(domain.ReasonDeclinedLocal, false)
		return nil
	})
}

// ---- outbound flows (off-loop acquisition, completion posted back) ----

// acquireForDial captures local devices, then sends the invite and arms the
// ring timer. Runs off the engine goroutine so permission prompts never
// starve unrelated signaling.
func (e *Engine) acquireForDial(ctx context.Context, room domain.RoomID, remote domain.UserID, kind domain.CallKind) {
	ms, err := e.media.NewSession(ctx, kind)
	e.post(func() {
		if !e.sess.Matches(room) || !e.sess.Live() {
			if ms != nil {
				ms.Close()
			}
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "call").Str("room", room.String()).Msg("media acquisition failed")
			e.finish(domain.ReasonMediaDenied, false)
			return
		}
		e.attachMedia(ms)
		ev := signaling.Event{
			Type: signaling.EventCallInvite, RoomID: room,
			From: e.self, To: remote, Kind: kind,
		}
		if err := e.signals.Send(ev); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("room", room.String()).Msg("invite not delivered")
			e.finish(domain.ReasonSignalingUnavailable, false)
			return
		}
		e.armRingTimer(room)
	})
}

// acquireForAnswer captures local devices for an accepted incoming call and
// sends call-accept. Media denial is equivalent to a decline and is
// signalled to the caller.
func (e *Engine) acquireForAnswer(ctx context.Context, room domain.RoomID, remote domain.UserID, kind domain.CallKind) {
	ms, err := e.media.NewSession(ctx, kind)
	e.post(func() {
		if !e.sess.Matches(room) || !e.sess.Live() {
			if ms != nil {
				ms.Close()
			}
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "call").Str("room", room.String()).Msg("media acquisition failed")
			reject := signaling.Event{
				Type: signaling.EventCallReject, RoomID: room,
				From: e.self, To: remote,
				Reason: string(domain.ReasonMediaDenied),
			}
			_ = e.signals.Send(reject)
			e.finish(domain.ReasonMediaDenied, false)
			return
		}
		e.attachMedia(ms)
		ev := signaling.Event{
			Type: signaling.EventCallAccept, RoomID: room,
			From: e.self, To: remote,
		}
		if err := e.signals.Send(ev); err != nil {
			e.finish(domain.ReasonSignalingUnavailable, false)
		}
	})
}

// createAndSendOffer runs the caller's negotiation step after call-accept.
func (e *Engine) createAndSendOffer(ctx context.Context, ms core.MediaSession, room domain.RoomID, remote domain.UserID) {
	sdp, err := ms.CreateOffer(ctx)
	e.post(func() {
		if !e.sess.Matches(room) || !e.sess.Live() {
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "call").Str("room", room.String()).Msg("create offer")
			e.finish(domain.ReasonNegotiationFailure, true)
			return
		}
		e.sess.offerSent = true
		ev := signaling.Event{
			Type: signaling.EventOffer, RoomID: room,
			From: e.self, To: remote, SDP: sdp,
		}
		if err := e.signals.Send(ev); err != nil {
			e.finish(domain.ReasonSignalingUnavailable, false)
		}
	})
}

// acceptOfferAndAnswer runs the callee's negotiation step. Sending the local
// answer completes this side's handshake, so connected is entered here.
func (e *Engine) acceptOfferAndAnswer(ctx context.Context, ms core.MediaSession, room domain.RoomID, remote domain.UserID, offer string) {
	sdp, err := ms.AcceptOffer(ctx, offer)
	e.post(func() {
		if !e.sess.Matches(room) || !e.sess.Live() {
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "call").Str("room", room.String()).Msg("accept offer")
			e.finish(domain.ReasonNegotiationFailure, true)
			return
		}
		e.sess.answerApplied = true
		ev := signaling.Event{
			Type: signaling.EventAnswer, RoomID: room,
			From: e.self, To: remote, SDP: sdp,
		}
		if err := e.signals.Send(ev); err != nil {
			e.finish(domain.ReasonSignalingUnavailable, false)
			return
		}
		if e.sess.markConnected(e.now()) {
			e.cancelRingTimer()
			e.publish()
			log.Info().Str("module", "call").Str("room", room.String()).Msg("connected")
		}
	})
}

// ---- inbound signaling ----

func (e *Engine) handleEvent(ctx context.Context, ev signaling.Event) {
	if ev.Type == signaling.EventCallInvite {
		e.handleInvite(ev)
		return
	}
	// roomId is the sole correlation key; anything not matching the live
	// session is stale and discarded without user-visible effect.
	if !e.sess.Matches(ev.RoomID) || !e.sess.Live() {
		log.Debug().Str("module", "call").Str("room", ev.RoomID.String()).
			Str("type", string(ev.Type)).Msg("stale event discarded")
		return
	}
	s := e.sess

	switch ev.Type {
	case signaling.EventCallRinging:
		if s.markRingingRemote() {
			e.publish()
		}

	case signaling.EventCallAccept:
		if s.Direction != domain.DirectionOutgoing || e.mediaSess == nil {
			return
		}
		if s.State != domain.StateDialing && s.State != domain.StateRingingRemote {
			return
		}
		if s.offerSent {
			return // duplicate accept
		}
		go e.createAndSendOffer(ctx, e.mediaSess, s.RoomID, s.RemoteParty)

	case signaling.EventCallReject:
		reason := domain.ReasonRejected
		if ev.Reason == string(domain.ReasonBusy) {
			reason = domain.ReasonBusy
		}
		e.finish(reason, false)

	case signaling.EventOffer:
		if s.Direction != domain.DirectionIncoming || s.State != domain.StateAnswering || e.mediaSess == nil {
			return
		}
		if s.answerApplied {
			return // duplicate offer
		}
		go e.acceptOfferAndAnswer(ctx, e.mediaSess, s.RoomID, s.RemoteParty, ev.SDP)

	case signaling.EventAnswer:
		e.handleAnswer(ev)

	case signaling.EventICECandidate:
		if ev.Candidate == nil {
			return
		}
		if e.mediaSess == nil {
			// Local media is still being acquired; park the candidate
			// до attachMedia, терять его нельзя.
			e.pendingCands = append(e.pendingCands, *ev.Candidate)
			return
		}
		if err := e.mediaSess.AddRemoteCandidate(*ev.Candidate); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("remote candidate rejected")
		}

	case signaling.EventCallEnd:
		e.finish(domain.ReasonHangupRemote, false)

	case signaling.EventCallUnavailable:
		e.finish(domain.ReasonPeerUnavailable, false)
	}
}

func (e *Engine) handleInvite(ev signaling.Event) {
	if e.sess.Matches(ev.RoomID) {
		// Replay of the live session's own invite; rejecting it busy would
		// read as a reject of the active call on the other side.
		log.Debug().Str("module", "call").Str("room", ev.RoomID.String()).Msg("duplicate invite discarded")
		return
	}
	if e.sess.Live() {
		// Busy slot, включая glare: локальная попытка побеждает, встречный
		// invite отбивается как занято.
		busy := signaling.Busy(&ev)
		if err := e.signals.Send(busy); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("busy reject not delivered")
		}
		return
	}
	kind := ev.Kind
	if kind != domain.CallVideo {
		kind = domain.CallVoice
	}
	s := newIncomingSession(ev.RoomID, e.self, ev.From, kind, e.now())
	e.sess = s
	e.publish()
	log.Info().Str("module", "call").Str("room", s.RoomID.String()).
		Str("from", string(ev.From)).Str("kind", string(kind)).Msg("incoming call")

	ringing := signaling.Event{
		Type: signaling.EventCallRinging, RoomID: s.RoomID,
		From: e.self, To: s.RemoteParty,
	}
	if err := e.signals.Send(ringing); err != nil {
		e.finish(domain.ReasonSignalingUnavailable, false)
		return
	}
	e.armRingTimer(s.RoomID)

	inv := Invite{RoomID: s.RoomID, From: s.RemoteParty, Kind: kind}
	for _, fn := range e.onIncoming {
		fn(inv)
	}
}

func (e *Engine) handleAnswer(ev signaling.Event) {
	s := e.sess
	if s.Direction != domain.DirectionOutgoing {
		return
	}
	if s.answerApplied {
		return // exactly one answer counts; duplicates are no-ops
	}
	if !s.offerSent || e.mediaSess == nil {
		log.Error().Str("module", "call").Str("room", s.RoomID.String()).
			Msg(ErrNegotiationOutOfOrder.Error())
		e.finish(domain.ReasonNegotiationFailure, true)
		return
	}
	if err := e.mediaSess.AcceptAnswer(ev.SDP); err != nil {
		log.Error().Err(err).Str("module", "call").Str("room", s.RoomID.String()).Msg("apply answer")
		e.finish(domain.ReasonNegotiationFailure, true)
		return
	}
	s.answerApplied = true
	if s.markConnected(e.now()) {
		e.cancelRingTimer()
		e.publish()
		log.Info().Str("module", "call").Str("room", s.RoomID.String()).Msg("connected")
	}
}

// ---- media wiring ----

// attachMedia binds adapter callbacks to the engine loop and flushes
// candidates that arrived while devices were still being acquired.
func (e *Engine) attachMedia(ms core.MediaSession) {
	e.mediaSess = ms
	s := e.sess
	room, remote := s.RoomID, s.RemoteParty

	ms.OnLocalCandidate(func(c signaling.Candidate) {
		e.post(func() {
			if !e.sess.Matches(room) || !e.sess.Live() {
				return
			}
			ev := signaling.Event{
				Type: signaling.EventICECandidate, RoomID: room,
				From: e.self, To: remote, Candidate: &c,
			}
			if err := e.signals.Send(ev); err != nil {
				log.Warn().Err(err).Str("module", "call").Msg("candidate not delivered")
			}
		})
	})

	ms.OnRemoteTrack(func(t core.RemoteTrack) {
		e.post(func() {
			if !e.sess.Matches(room) {
				return
			}
			log.Info().Str("module", "call").Str("room", room.String()).
				Str("kind", t.Kind).Str("track", t.ID).Msg("remote track")
			for _, fn := range e.onRemoteTrack {
				fn(t)
			}
		})
	})

	// Advisory: transport state never drives the connected transition, but
	// a drop after connect is a transport failure and ends the session.
	ms.OnStateChange(func(connected bool) {
		e.post(func() {
			if !e.sess.Matches(room) {
				return
			}
			if !connected && e.sess.State == domain.StateConnected {
				ev := signaling.Event{
					Type: signaling.EventCallEnd, RoomID: room,
					From: e.self, To: remote,
					DurationSeconds: int(e.sess.Duration(e.now()).Seconds()),
				}
				_ = e.signals.Send(ev)
				e.finish(domain.ReasonTransportFailure, false)
			}
		})
	})

	for _, c := range e.pendingCands {
		if err := ms.AddRemoteCandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("buffered candidate rejected")
		}
	}
	e.pendingCands = nil
}

// ---- timer ----

func (e *Engine) armRingTimer(room domain.RoomID) {
	e.cancelRingTimer()
	e.ringTimer = time.AfterFunc(e.ringTimeout, func() {
		e.post(func() {
			if !e.sess.Matches(room) || !e.sess.Live() {
				return
			}
			if e.sess.State == domain.StateConnected {
				return
			}
			log.Info().Str("module", "call").Str("room", room.String()).Msg("no answer")
			e.finish(domain.ReasonNoAnswer, false)
		})
	})
}

func (e *Engine) cancelRingTimer() {
	if e.ringTimer != nil {
		e.ringTimer.Stop()
		e.ringTimer = nil
	}
}

// ---- teardown ----

// finish forces the terminal transition: releases media, cancels the ring
// timer, emits the transcript entry and frees the call slot. Idempotent.
// notifyPeer additionally sends call-end, used on fatal negotiation errors.
func (e *Engine) finish(reason domain.EndReason, notifyPeer bool) {
	s := e.sess
	if s == nil || !s.end(reason) {
		return
	}
	e.cancelRingTimer()
	if notifyPeer {
		ev := signaling.Event{
			Type: signaling.EventCallEnd, RoomID: s.RoomID,
			From: e.self, To: s.RemoteParty,
			DurationSeconds: int(s.Duration(e.now()).Seconds()),
		}
		_ = e.signals.Send(ev)
	}
	if e.mediaSess != nil {
		e.mediaSess.Close()
		e.mediaSess = nil
	}
	e.pendingCands = nil
	e.recorder.Record(s, e.now())
	e.publish()
	log.Info().Str("module", "call").Str("room", s.RoomID.String()).
		Str("reason", string(reason)).Str("outcome", string(s.Outcome())).Msg("call ended")
}

// publish refreshes the shared snapshot and fires transition subscribers.
func (e *Engine) publish() {
	snap := e.sess.snapshot()
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
	for _, fn := range e.onTransition {
		fn(snap)
	}
}
