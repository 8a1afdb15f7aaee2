// Package negotiation drives the offer/answer/candidate exchange between
// the local connection and each remote peer. One Session exists per remote
// peer; the side with the lexicographically smaller connection id offers.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var ErrSessionClosed = errors.New("negotiation session closed")

type State int

const (
	Uninitiated State = iota
	LocalOfferSent
	RemoteOfferReceived
	Stable
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitiated:
		return "uninitiated"
	case LocalOfferSent:
		return "local-offer-sent"
	case RemoteOfferReceived:
		return "remote-offer-received"
	case Stable:
		return "stable"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MediaEngine is the peer connection a session negotiates for. Descriptions
// and candidates are opaque JSON. Implementations must honour ctx.
type MediaEngine interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// AcceptOffer sets a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(ctx context.Context, answer json.RawMessage) error
	AddCandidate(ctx context.Context, candidate json.RawMessage) error
	// OnCandidate registers the sink for locally gathered candidates.
	OnCandidate(func(json.RawMessage))
	Close() error
}

// Signaler sends a negotiation envelope to the remote peer.
type Signaler interface {
	Send(sig protocol.Signal) error
}

// Initiator reports whether local offers to remote.
func Initiator(local, remote domain.ConnID) bool {
	return local < remote
}

type Session struct {
	local  domain.ConnID
	remote domain.ConnID
	engine MediaEngine
	signal Signaler

	// sem admits one description-mutating operation at a time.
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	localOffer bool
	remoteSet  bool
	pending    []json.RawMessage

	// outMu orders outbound signals. Local candidates wait in outbox until
	// our offer or answer has gone out.
	outMu     sync.Mutex
	described bool
	outbox    []json.RawMessage
}

func NewSession(local, remote domain.ConnID, engine MediaEngine, signal Signaler) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		local:  local,
		remote: remote,
		engine: engine,
		signal: signal,
		sem:    semaphore.NewWeighted(1),
		ctx:    ctx,
		cancel: cancel,
	}
	engine.OnCandidate(s.sendCandidate)
	return s
}

func (s *Session) Remote() domain.ConnID { return s.remote }

func (s *Session) Initiator() bool { return Initiator(s.local, s.remote) }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending is the number of buffered inbound candidates.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// acquire takes the single-flight slot. The returned context is canceled
// when either ctx or the session is done.
func (s *Session) acquire(ctx context.Context) (context.Context, func(), error) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	if err := s.sem.Acquire(opCtx, 1); err != nil {
		stop()
		cancel()
		if s.ctx.Err() != nil {
			return nil, nil, ErrSessionClosed
		}
		return nil, nil, err
	}
	return opCtx, func() {
		s.sem.Release(1)
		stop()
		cancel()
	}, nil
}

// Start sends the initial offer. Only the initiator may start, and only
// once.
func (s *Session) Start(ctx context.Context) (domain.Result, error) {
	if !s.Initiator() {
		return domain.Dropped(domain.ReasonProtocolViolation), nil
	}
	opCtx, release, err := s.acquire(ctx)
	if err != nil {
		return s.closedOr(err)
	}
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != Uninitiated {
		release()
		return domain.Dropped(domain.ReasonNoop), nil
	}

	offer, err := s.engine.CreateOffer(opCtx)
	if err != nil {
		release()
		return s.closedOr(err)
	}
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		release()
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	s.state = LocalOfferSent
	s.localOffer = true
	s.mu.Unlock()
	release()

	s.logState("offer created")
	return domain.Delivered, s.sendDescription(protocol.Signal{Kind: protocol.TypeOffer, To: s.remote, SDP: offer})
}

// HandleOffer answers a remote offer. Duplicate offers, offers after the
// remote description is set, offers crossing our own and offers to a
// closed session are dropped.
func (s *Session) HandleOffer(ctx context.Context, offer json.RawMessage) (domain.Result, error) {
	if res, ok := s.precheck(func() bool { return s.remoteSet || s.localOffer }); !ok {
		return res, nil
	}
	opCtx, release, err := s.acquire(ctx)
	if err != nil {
		return s.closedOr(err)
	}
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		release()
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	if s.remoteSet || s.localOffer {
		s.mu.Unlock()
		release()
		return domain.Dropped(domain.ReasonProtocolViolation), nil
	}
	s.mu.Unlock()

	answer, err := s.engine.AcceptOffer(opCtx, offer)
	if err != nil {
		release()
		return s.closedOr(err)
	}
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		release()
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	s.state = RemoteOfferReceived
	s.remoteSet = true
	s.mu.Unlock()
	s.flush(opCtx)

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		release()
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	s.state = Stable
	s.mu.Unlock()
	release()

	s.logState("offer answered")
	return domain.Delivered, s.sendDescription(protocol.Signal{Kind: protocol.TypeAnswer, To: s.remote, SDP: answer})
}

// HandleAnswer applies the answer to our outstanding offer.
func (s *Session) HandleAnswer(ctx context.Context, answer json.RawMessage) (domain.Result, error) {
	if res, ok := s.precheck(func() bool { return !s.localOffer || s.remoteSet }); !ok {
		return res, nil
	}
	opCtx, release, err := s.acquire(ctx)
	if err != nil {
		return s.closedOr(err)
	}
	defer release()

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	if !s.localOffer || s.remoteSet {
		s.mu.Unlock()
		return domain.Dropped(domain.ReasonProtocolViolation), nil
	}
	s.mu.Unlock()

	if err := s.engine.AcceptAnswer(opCtx, answer); err != nil {
		return s.closedOr(err)
	}
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	s.remoteSet = true
	s.mu.Unlock()
	s.flush(opCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	s.state = Stable
	log.Debug().Str("module", "negotiation").Str("local", string(s.local)).Str("remote", string(s.remote)).
		Msg("answer applied")
	return domain.Delivered, nil
}

// HandleCandidate applies a remote candidate, or buffers it until the
// remote description is set.
func (s *Session) HandleCandidate(ctx context.Context, candidate json.RawMessage) (domain.Result, error) {
	if res, ok := s.precheck(func() bool { return false }); !ok {
		return res, nil
	}
	opCtx, release, err := s.acquire(ctx)
	if err != nil {
		return s.closedOr(err)
	}
	defer release()

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		s.mu.Unlock()
		return domain.Delivered, nil
	}
	s.mu.Unlock()

	if err := s.engine.AddCandidate(opCtx, candidate); err != nil {
		return s.closedOr(err)
	}
	return domain.Delivered, nil
}

// Close aborts any in-flight operation and releases the engine. A closed
// session is never reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	s.logState("closed")
	return s.engine.Close()
}

// precheck drops early on a closed session or when reject holds, without
// waiting for the single-flight slot.
func (s *Session) precheck(reject func() bool) (domain.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return domain.Dropped(domain.ReasonSessionClosed), false
	}
	if reject() {
		return domain.Dropped(domain.ReasonProtocolViolation), false
	}
	return domain.Delivered, true
}

// flush applies candidates buffered before the remote description. Called
// with the single-flight slot held.
func (s *Session) flush(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := s.engine.AddCandidate(ctx, c); err != nil {
			log.Warn().Err(err).Str("module", "negotiation").Str("remote", string(s.remote)).Msg("buffered candidate rejected")
		}
	}
}

func (s *Session) sendCandidate(c json.RawMessage) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.State() == Closed {
		return
	}
	if !s.described {
		s.outbox = append(s.outbox, c)
		return
	}
	s.writeCandidate(c)
}

// sendDescription sends our offer or answer, then the candidates gathered
// while it was being produced.
func (s *Session) sendDescription(sig protocol.Signal) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if err := s.signal.Send(sig); err != nil {
		return err
	}
	s.described = true
	outbox := s.outbox
	s.outbox = nil
	for _, c := range outbox {
		if s.State() == Closed {
			return nil
		}
		s.writeCandidate(c)
	}
	return nil
}

func (s *Session) writeCandidate(c json.RawMessage) {
	if err := s.signal.Send(protocol.Signal{Kind: protocol.TypeICECandidate, To: s.remote, Candidate: c}); err != nil {
		log.Warn().Err(err).Str("module", "negotiation").Str("remote", string(s.remote)).Msg("send candidate")
	}
}

// closedOr maps errors caused by closing the session to a drop.
func (s *Session) closedOr(err error) (domain.Result, error) {
	if s.ctx.Err() != nil || errors.Is(err, ErrSessionClosed) {
		return domain.Dropped(domain.ReasonSessionClosed), nil
	}
	return domain.Result{}, err
}

func (s *Session) logState(msg string) {
	log.Debug().Str("module", "negotiation").Str("local", string(s.local)).Str("remote", string(s.remote)).
		Str("state", s.State().String()).Msg(msg)
}
