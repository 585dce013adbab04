package call

import (
	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/domain"
	"github.com/dchudnov/campuscall/internal/signaling"
)

// Control surface: operations on the live media handles. None of these emit
// signaling events or renegotiate; EndCall is the only one that drives a
// state transition.

// ToggleMute flips the local audio track. Returns the new muted state
// (true = muted).
func (e *Engine) ToggleMute() bool {
	var muted bool
	_ = e.call(func() error {
		s := e.sess
		if !s.Live() {
			return nil
		}
		s.Muted = !s.Muted
		muted = s.Muted
		if e.mediaSess != nil {
			if err := e.mediaSess.SetAudioEnabled(!s.Muted); err != nil {
				log.Warn().Err(err).Str("module", "call").Msg("toggle mute")
			}
		}
		e.publish()
		return nil
	})
	return muted
}

// ToggleVideo flips the local video track. No-op for voice calls: the flag
// stays unchanged and nothing reaches the media layer.
func (e *Engine) ToggleVideo() bool {
	var enabled bool
	_ = e.call(func() error {
		s := e.sess
		if !s.Live() || s.Kind != domain.CallVideo {
			if s != nil {
				enabled = s.VideoEnabled
			}
			return nil
		}
		s.VideoEnabled = !s.VideoEnabled
		enabled = s.VideoEnabled
		if e.mediaSess != nil {
			if err := e.mediaSess.SetVideoEnabled(s.VideoEnabled); err != nil {
				log.Warn().Err(err).Str("module", "call").Msg("toggle video")
			}
		}
		e.publish()
		return nil
	})
	return enabled
}

// ToggleSpeaker flips local playback routing of the remote audio handle.
// Чисто локальная настройка, до второй стороны не доходит.
func (e *Engine) ToggleSpeaker() bool {
	var on bool
	_ = e.call(func() error {
		s := e.sess
		if !s.Live() {
			return nil
		}
		s.SpeakerOn = !s.SpeakerOn
		on = s.SpeakerOn
		e.publish()
		return nil
	})
	return on
}

// EndCall hangs up the live session, notifying the peer. Idempotent.
func (e *Engine) EndCall() {
	_ = e.call(func() error {
		s := e.sess
		if !s.Live() {
			return nil
		}
		ev := signaling.Event{
			Type: signaling.EventCallEnd, RoomID: s.RoomID,
			From: e.self, To: s.RemoteParty,
			DurationSeconds: int(s.Duration(e.now()).Seconds()),
		}
		if err := e.signals.Send(ev); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("call-end not delivered")
		}
		e.finish(domain.ReasonHangupLocal, false)
		return nil
	})
}
