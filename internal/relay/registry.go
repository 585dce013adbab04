// Package relay is the central signaling relay: one live websocket per
// authenticated user, typed events routed to their recipient, nothing
// stored.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// ClientConn abstracts one user's signaling transport.
// Owned by the adapter; the adapter must Close() it.
type ClientConn interface {
	TrySend(data []byte) error
	Close()
}

type clientEntry struct {
	conn   ClientConn
	cancel context.CancelFunc
	drops  int
}

// Registry tracks the single live connection per user. A newer connection
// supersedes the older one, which gets cancelled and closed.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.UserID]*clientEntry
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.UserID]*clientEntry)}
}

func (r *Registry) Bind(uid domain.UserID, conn ClientConn, cancel context.CancelFunc) {
	r.mu.Lock()
	old := r.clients[uid]
	r.clients[uid] = &clientEntry{conn: conn, cancel: cancel}
	r.mu.Unlock()

	if old != nil {
		if old.cancel != nil {
			old.cancel()
		}
		old.conn.Close()
		log.Info().Str("module", "relay.registry").Str("user", string(uid)).Msg("superseded connection")
	}
	log.Info().Str("module", "relay.registry").Str("user", string(uid)).Msg("bound connection")
}

// Unbind removes the user's entry only when conn is still the live one, so
// a late disconnect of a superseded socket doesn't evict its successor.
func (r *Registry) Unbind(uid domain.UserID, conn ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[uid]; ok && e.conn == conn {
		delete(r.clients, uid)
		log.Info().Str("module", "relay.registry").Str("user", string(uid)).Msg("unbound connection")
	}
}

func (r *Registry) Get(uid domain.UserID) (ClientConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.clients[uid]; ok {
		return e.conn, true
	}
	return nil, false
}

// RecordDrop bumps the recipient's backpressure counter and returns the new
// total. Reset happens on successful delivery.
func (r *Registry) RecordDrop(uid domain.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[uid]; ok {
		e.drops++
		return e.drops
	}
	return 0
}

func (r *Registry) ResetDrops(uid domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[uid]; ok {
		e.drops = 0
	}
}

// Kick cancels and closes the user's live connection.
func (r *Registry) Kick(uid domain.UserID) {
	r.mu.Lock()
	e, ok := r.clients[uid]
	if ok {
		delete(r.clients, uid)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.conn.Close()
	log.Info().Str("module", "relay.registry").Str("user", string(uid)).Msg("kicked")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
