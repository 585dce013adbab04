package relay

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/domain"
	"github.com/dchudnov/campuscall/internal/signaling"
)

// Router forwards one inbound frame to its recipient. The relay inspects
// only the envelope — payloads are opaque — and guarantees ordering per
// sender while connected, nothing more.
type Router struct {
	Registry *Registry
	Limiter  *InviteLimiter
	Policy   Policy
}

func NewRouter(reg *Registry, limiter *InviteLimiter, policy Policy) *Router {
	return &Router{Registry: reg, Limiter: limiter, Policy: policy}
}

// Route parses and delivers a frame sent by from. Undeliverable invites are
// bounced back as call-unavailable so the caller fails fast; all other
// undeliverable events are dropped silently, matching the channel's
// best-effort contract.
func (rt *Router) Route(from domain.UserID, data []byte) {
	var ev signaling.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("module", "relay.router").Str("from", string(from)).Msg("bad frame")
		return
	}
	if err := ev.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "relay.router").Str("from", string(from)).Msg("invalid event")
		return
	}
	// Отправитель не может подписаться чужим id.
	if ev.From != from {
		log.Warn().Str("module", "relay.router").Str("from", string(from)).
			Str("claimed", string(ev.From)).Msg("sender spoof rejected")
		return
	}

	if ev.Type == signaling.EventCallInvite && rt.Limiter != nil && !rt.Limiter.Allow(from) {
		log.Warn().Str("module", "relay.router").Str("from", string(from)).Msg("invite rate limited")
		rt.bounce(&ev)
		return
	}

	dst, ok := rt.Registry.Get(ev.To)
	if !ok {
		log.Debug().Str("module", "relay.router").Str("to", string(ev.To)).
			Str("type", string(ev.Type)).Msg("recipient offline")
		if ev.Type == signaling.EventCallInvite {
			rt.bounce(&ev)
		}
		return
	}

	if err := dst.TrySend(data); err != nil {
		drops := rt.Registry.RecordDrop(ev.To)
		log.Warn().Err(err).Str("module", "relay.router").Str("to", string(ev.To)).
			Int("drops", drops).Msg("delivery dropped")
		if rt.Policy != nil && rt.Policy.OnBackpressure(ev.To, drops) == KickClient {
			rt.Registry.Kick(ev.To)
		}
		return
	}
	rt.Registry.ResetDrops(ev.To)
}

// bounce sends call-unavailable back to the invite's sender.
func (rt *Router) bounce(invite *signaling.Event) {
	src, ok := rt.Registry.Get(invite.From)
	if !ok {
		return
	}
	b, err := json.Marshal(signaling.Unavailable(invite))
	if err != nil {
		log.Error().Err(err).Str("module", "relay.router").Msg("bounce marshal")
		return
	}
	_ = src.TrySend(b)
}
