package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dchudnov/campuscall/internal/core"
	"github.com/dchudnov/campuscall/internal/domain"
)

// Factory builds one MediaSession per call attempt, capturing local devices
// up front. Implements core.MediaFactory.
type Factory struct {
	stunServers []string
}

func NewFactory(stunServers []string) *Factory {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &Factory{stunServers: stunServers}
}

func (f *Factory) NewSession(ctx context.Context, kind domain.CallKind) (core.MediaSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, closeMedia, err := newMediaPC(kind, f.rtcConfig())
	if err != nil {
		return nil, err
	}
	return newConnection(pc, closeMedia), nil
}

func (f *Factory) rtcConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: f.stunServers},
		},
	}
}
