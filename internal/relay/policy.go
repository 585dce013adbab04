package relay

import "github.com/dchudnov/campuscall/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	KickClient
)

// Policy decides what to do with a recipient whose send queue is full.
type Policy interface {
	OnBackpressure(uid domain.UserID, drops int) BackpressureAction
}

// ThresholdPolicy drops events until a consumer has fallen behind maxDrops
// times in a row, then kicks it so the client reconnects with a clean queue.
type ThresholdPolicy struct {
	MaxDrops int
}

func (p ThresholdPolicy) OnBackpressure(_ domain.UserID, drops int) BackpressureAction {
	if p.MaxDrops > 0 && drops >= p.MaxDrops {
		return KickClient
	}
	return DropEvent
}
