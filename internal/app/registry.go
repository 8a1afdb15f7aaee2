package app

import (
	"context"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Conn   core.Transport
	Cancel context.CancelFunc
}

// Registry maps live connection ids to their transports. It is written by
// the coordinator loop and read by adapters, hence the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ConnID]*sessionEntry),
	}
}

func (r *Registry) Bind(id domain.ConnID, conn core.Transport, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &sessionEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound transport")
}

func (r *Registry) Get(id domain.ConnID) (core.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind forgets a transport and reports whether it was bound.
func (r *Registry) Unbind(id domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind transport")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled session")
	return true
}

// CloseAll closes every transport, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.sessions
	r.sessions = make(map[domain.ConnID]*sessionEntry)
	r.mu.Unlock()
	for _, e := range entries {
		e.Conn.Close()
		if e.Cancel != nil {
			e.Cancel()
		}
	}
}
