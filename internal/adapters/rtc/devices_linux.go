//go:build linux && cgo

package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/call"
	"github.com/dchudnov/campuscall/internal/domain"
)

// newMediaPC builds the peer connection with VP8+Opus codecs and captures
// local microphone (always) plus camera (video calls) via pion/mediadevices.
// A video call whose camera fails degrades to audio-only; a microphone
// failure is ErrMediaAccessDenied, equivalent to a local decline.
func newMediaPC(kind domain.CallKind, cfg webrtc.Configuration) (*webrtc.PeerConnection, func(), error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// Default disconnectedTimeout (5s) is too aggressive for NAT paths that
	// hiccup during re-keying; give ICE time to recover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, nil, err
	}

	// GetUserMedia fails as a unit if either requested track can't be
	// opened, so for video calls try camera+mic first and fall back to
	// mic-only instead of failing the whole call on a busy camera.
	type attempt struct {
		video bool
		label string
	}
	attempts := []attempt{{false, "audio-only"}}
	if kind == domain.CallVideo {
		attempts = []attempt{{true, "video+audio"}, {false, "audio-only"}}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only: MJPEG nodes on some cameras produce
				// malformed frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("module", "rtc").Str("attempt", a.label).Msg("GetUserMedia failed")
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warn().Err(err).Str("module", "rtc").Msg("local track ended")
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				log.Error().Err(err).Str("module", "rtc").Msg("AddTrack error")
			}
		}

		log.Info().Str("module", "rtc").Str("attempt", a.label).
			Int("tracks", len(tracks)).Msg("local media captured")
		closeFn := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, closeFn, nil
	}

	_ = pc.Close()
	return nil, nil, fmt.Errorf("%w: %v", call.ErrMediaAccessDenied, lastErr)
}
