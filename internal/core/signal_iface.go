package core

import "github.com/dchudnov/campuscall/internal/signaling"

// SignalChannel is one persistent, bidirectional signaling connection for an
// authenticated identity. Owned by the adapter; the adapter must Close() it.
//
// Delivery contract: Events yields inbound events in arrival order to a
// single consumer. Send enqueues toward ev.To; delivery is best-effort and
// events sent while the transport is down are dropped, never queued across
// reconnects.
type SignalChannel interface {
	Send(ev signaling.Event) error
	Events() <-chan signaling.Event
	Close()
}
