package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// EngineFactory creates the media engine for a new session with remote.
type EngineFactory func(remote domain.ConnID) (MediaEngine, error)

// Manager owns the local connection's sessions, one per remote peer.
type Manager struct {
	local   domain.ConnID
	factory EngineFactory
	signal  Signaler

	mu       sync.Mutex
	sessions map[domain.ConnID]*Session
}

func NewManager(local domain.ConnID, factory EngineFactory, signal Signaler) *Manager {
	return &Manager{
		local:    local,
		factory:  factory,
		signal:   signal,
		sessions: make(map[domain.ConnID]*Session),
	}
}

func (m *Manager) Local() domain.ConnID { return m.local }

func (m *Manager) Session(remote domain.ConnID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[remote]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Discover sets up a session for a newly seen room-mate and, if we are the
// initiator, sends the offer. A pair never gets a second session.
func (m *Manager) Discover(ctx context.Context, remote domain.ConnID) (domain.Result, error) {
	s, created, err := m.getOrCreate(remote)
	if err != nil {
		return domain.Result{}, err
	}
	if !created {
		return domain.Dropped(domain.ReasonNoop), nil
	}
	if !s.Initiator() {
		return domain.Delivered, nil
	}
	return s.Start(ctx)
}

// Offer handles an inbound offer, creating the answering session if the
// peer has not been discovered yet.
func (m *Manager) Offer(ctx context.Context, from domain.ConnID, sdp json.RawMessage) (domain.Result, error) {
	s, _, err := m.getOrCreate(from)
	if err != nil {
		return domain.Result{}, err
	}
	return s.HandleOffer(ctx, sdp)
}

func (m *Manager) Answer(ctx context.Context, from domain.ConnID, sdp json.RawMessage) (domain.Result, error) {
	s, ok := m.Session(from)
	if !ok {
		log.Warn().Str("module", "negotiation").Str("local", string(m.local)).Str("remote", string(from)).
			Msg("answer for unknown session dropped")
		return domain.Dropped(domain.ReasonSessionNotFound), nil
	}
	return s.HandleAnswer(ctx, sdp)
}

// Candidate applies a remote candidate. Candidates that arrive before any
// session with the peer exists are dropped, not held for later.
func (m *Manager) Candidate(ctx context.Context, from domain.ConnID, candidate json.RawMessage) (domain.Result, error) {
	s, ok := m.Session(from)
	if !ok {
		log.Warn().Str("module", "negotiation").Str("local", string(m.local)).Str("remote", string(from)).
			Msg("candidate for unknown session dropped")
		return domain.Dropped(domain.ReasonSessionNotFound), nil
	}
	return s.HandleCandidate(ctx, candidate)
}

// Remove closes the session with a peer that left.
func (m *Manager) Remove(remote domain.ConnID) bool {
	m.mu.Lock()
	s, ok := m.sessions[remote]
	delete(m.sessions, remote)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Str("module", "negotiation").Str("remote", string(remote)).Msg("close session")
	}
	return true
}

// Reset closes every session, e.g. before switching rooms.
func (m *Manager) Reset() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[domain.ConnID]*Session)
	m.mu.Unlock()
	for remote, s := range sessions {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Str("module", "negotiation").Str("remote", string(remote)).Msg("close session")
		}
	}
	if len(sessions) > 0 {
		log.Info().Str("module", "negotiation").Str("local", string(m.local)).Int("closed", len(sessions)).Msg("sessions reset")
	}
}

func (m *Manager) getOrCreate(remote domain.ConnID) (*Session, bool, error) {
	if remote == m.local || remote == "" {
		return nil, false, fmt.Errorf("invalid remote %q", remote)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[remote]; ok {
		return s, false, nil
	}
	engine, err := m.factory(remote)
	if err != nil {
		return nil, false, fmt.Errorf("create media engine: %w", err)
	}
	s := NewSession(m.local, remote, engine, m.signal)
	m.sessions[remote] = s
	return s, true, nil
}
