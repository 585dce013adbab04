// Package wsclient implements the client side of the signaling channel: one
// persistent websocket per authenticated identity, best-effort reconnection
// transparent to callers, ordered delivery while connected.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/domain"
	"github.com/dchudnov/campuscall/internal/signaling"
)

var ErrNotConnected = errors.New("wsclient: not connected to relay")

const (
	pingPeriod       = 30 * time.Second
	writeWait        = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
)

// Channel implements core.SignalChannel over gorilla/websocket.
type Channel struct {
	url      string
	identity domain.UserID

	connMu sync.Mutex
	conn   *websocket.Conn

	ctx       context.Context
	ctxCancel context.CancelFunc
	sendCh    chan signaling.Event
	events    chan signaling.Event
	closedCh  chan struct{}

	backoff time.Duration
}

// Connect establishes the initial connection for identity. The relay cannot
// be reached at all → error, callers fail fast instead of queueing.
func Connect(url string, identity domain.UserID) (*Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		url:       url,
		identity:  identity,
		ctx:       ctx,
		ctxCancel: cancel,
		sendCh:    make(chan signaling.Event, 16),
		events:    make(chan signaling.Event, 32),
		closedCh:  make(chan struct{}),
		backoff:   initialBackoff,
	}
	if err := ch.dial(); err != nil {
		cancel()
		return nil, fmt.Errorf("initial signaling connection failed: %w", err)
	}
	go ch.runLoop()
	return ch, nil
}

// Events yields inbound events in arrival order to a single consumer.
func (ch *Channel) Events() <-chan signaling.Event {
	return ch.events
}

// Send enqueues an event toward ev.To. Events sent while the transport is
// down are rejected, never queued across reconnects — delivery is
// best-effort, only ordering while connected is guaranteed.
func (ch *Channel) Send(ev signaling.Event) error {
	ch.connMu.Lock()
	connected := ch.conn != nil
	ch.connMu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	select {
	case ch.sendCh <- ev:
		return nil
	case <-ch.ctx.Done():
		return ch.ctx.Err()
	default:
		return errors.New("wsclient: send queue full")
	}
}

func (ch *Channel) Close() {
	ch.ctxCancel()

	ch.connMu.Lock()
	if ch.conn != nil {
		ch.conn.Close()
	}
	ch.connMu.Unlock()

	select {
	case <-ch.closedCh:
	case <-time.After(2 * time.Second):
		log.Warn().Str("module", "wsclient").Msg("close timed out, forcing shutdown")
	}

	ch.connMu.Lock()
	ch.conn = nil
	ch.connMu.Unlock()
}

func (ch *Channel) dial() error {
	ch.connMu.Lock()
	defer ch.connMu.Unlock()

	if ch.conn != nil {
		return nil // already connected
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	// The relay reads identity from the client token cookie.
	header := http.Header{}
	header.Set("Cookie", "ct="+string(ch.identity))

	conn, _, err := dialer.Dial(ch.url, header)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	ch.conn = conn
	ch.backoff = initialBackoff
	log.Info().Str("module", "wsclient").Str("url", ch.url).Msg("connected to relay")
	return nil
}

func (ch *Channel) disconnect() {
	ch.connMu.Lock()
	defer ch.connMu.Unlock()
	if ch.conn != nil {
		ch.conn.Close()
		ch.conn = nil
		log.Info().Str("module", "wsclient").Msg("disconnected")
	}
}

func (ch *Channel) current() *websocket.Conn {
	ch.connMu.Lock()
	defer ch.connMu.Unlock()
	return ch.conn
}

// runLoop manages connection lifecycle: reconnect with exponential backoff,
// run the pumps until one of them fails, then wait for both to exit before
// redialing. Pumps are bound to their own conn and never outlive it; a
// stale write pump must never race its successor for sendCh or the socket.
func (ch *Channel) runLoop() {
	defer close(ch.closedCh)

	for {
		select {
		case <-ch.ctx.Done():
			return
		default:
		}

		if err := ch.dial(); err != nil {
			log.Warn().Err(err).Str("module", "wsclient").
				Dur("retry_in", ch.backoff).Msg("connection failed")
			select {
			case <-time.After(ch.backoff):
				ch.backoff = min(ch.backoff*2, maxBackoff)
				continue
			case <-ch.ctx.Done():
				return
			}
		}

		conn := ch.current()
		if conn == nil {
			continue
		}

		errCh := make(chan error, 2)
		done := make(chan struct{})
		var pumps sync.WaitGroup
		pumps.Add(2)
		go func() {
			defer pumps.Done()
			ch.readLoop(conn, done, errCh)
		}()
		go func() {
			defer pumps.Done()
			ch.writeLoop(conn, done, errCh)
		}()

		select {
		case err := <-errCh:
			log.Warn().Err(err).Str("module", "wsclient").Msg("connection error")
			ch.disconnect()
		case <-ch.ctx.Done():
			ch.disconnect()
		}
		close(done)
		pumps.Wait()

		if ch.ctx.Err() != nil {
			return
		}
	}
}

func (ch *Channel) readLoop(conn *websocket.Conn, done <-chan struct{}, errCh chan<- error) {
	for {
		var ev signaling.Event
		if err := conn.ReadJSON(&ev); err != nil {
			errCh <- fmt.Errorf("read failed: %w", err)
			return
		}

		select {
		case ch.events <- ev:
		case <-done:
			return
		case <-ch.ctx.Done():
			return
		}
	}
}

func (ch *Channel) writeLoop(conn *websocket.Conn, done <-chan struct{}, errCh chan<- error) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-ch.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(&ev); err != nil {
				errCh <- fmt.Errorf("write failed: %w", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				errCh <- fmt.Errorf("ping failed: %w", err)
				return
			}

		case <-done:
			return

		case <-ch.ctx.Done():
			return
		}
	}
}
