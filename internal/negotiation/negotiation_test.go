package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu         sync.Mutex
	offers     int
	answers    int
	remote     []json.RawMessage
	candidates []json.RawMessage
	onICE      func(json.RawMessage)
	closed     bool

	// block, when set, makes CreateOffer wait for it or ctx.
	block   chan struct{}
	entered chan struct{}

	// gathered is emitted as a local candidate while a description is made.
	gathered json.RawMessage
	// failAccepts makes that many AcceptOffer/AcceptAnswer calls fail.
	failAccepts int
}

func (e *fakeEngine) gather() {
	if e.gathered != nil && e.onICE != nil {
		e.onICE(e.gathered)
	}
}

func (e *fakeEngine) failing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAccepts > 0 {
		e.failAccepts--
		return true
	}
	return false
}

func (e *fakeEngine) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if e.block != nil {
		close(e.entered)
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.gather()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offers++
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (e *fakeEngine) AcceptOffer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	if e.failing() {
		return nil, assert.AnError
	}
	e.gather()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remote = append(e.remote, offer)
	e.answers++
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (e *fakeEngine) AcceptAnswer(_ context.Context, answer json.RawMessage) error {
	if e.failing() {
		return assert.AnError
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remote = append(e.remote, answer)
	return nil
}

func (e *fakeEngine) AddCandidate(_ context.Context, c json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) OnCandidate(fn func(json.RawMessage)) { e.onICE = fn }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) appliedCandidates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.candidates)
}

type recorder struct {
	mu   sync.Mutex
	sent []protocol.Signal
}

func (r *recorder) Send(sig protocol.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sig)
	return nil
}

func (r *recorder) kinds() []protocol.MsgType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.MsgType, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.Kind)
	}
	return out
}

type engines struct {
	mu  sync.Mutex
	all map[domain.ConnID]*fakeEngine
}

func (e *engines) factory(remote domain.ConnID) (MediaEngine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.all == nil {
		e.all = make(map[domain.ConnID]*fakeEngine)
	}
	eng := &fakeEngine{}
	e.all[remote] = eng
	return eng, nil
}

func (e *engines) get(remote domain.ConnID) *fakeEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.all[remote]
}

var (
	sdpOffer  = json.RawMessage(`{"type":"offer","sdp":"remote"}`)
	sdpAnswer = json.RawMessage(`{"type":"answer","sdp":"remote"}`)
	cand1     = json.RawMessage(`{"candidate":"c1"}`)
	cand2     = json.RawMessage(`{"candidate":"c2"}`)
)

func TestInitiator(t *testing.T) {
	assert.True(t, Initiator("a", "b"))
	assert.False(t, Initiator("b", "a"))
	assert.False(t, Initiator("a", "a"))
}

func TestManager_DiscoverInitiator(t *testing.T) {
	var eng engines
	rec := &recorder{}
	m := NewManager("a", eng.factory, rec)
	ctx := context.Background()

	res, err := m.Discover(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.Delivered, res)
	assert.Equal(t, []protocol.MsgType{protocol.TypeOffer}, rec.kinds())
	assert.Equal(t, domain.ConnID("b"), rec.sent[0].To)

	s, ok := m.Session("b")
	require.True(t, ok)
	assert.Equal(t, LocalOfferSent, s.State())

	res, err = m.Discover(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.Dropped(domain.ReasonNoop), res, "one session per pair")
	assert.Len(t, rec.kinds(), 1)
	assert.Equal(t, 1, m.Len())
}

func TestManager_DiscoverResponderWaits(t *testing.T) {
	var eng engines
	rec := &recorder{}
	m := NewManager("b", eng.factory, rec)
	ctx := context.Background()

	res, err := m.Discover(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Delivered, res)
	assert.Empty(t, rec.kinds())

	s, _ := m.Session("a")
	assert.Equal(t, Uninitiated, s.State())

	res, err = s.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Dropped(domain.ReasonProtocolViolation), res, "only the initiator offers")
}

func TestManager_OfferAnswered(t *testing.T) {
	var eng engines
	rec := &recorder{}
	m := NewManager("b", eng.factory, rec)
	ctx := context.Background()

	res, err := m.Offer(ctx, "a", sdpOffer)
	require.NoError(t, err)
	assert.Equal(t, domain.Delivered, res)
	assert.Equal(t, []protocol.MsgType{protocol.TypeAnswer}, rec.kinds())

	s, _ := m.Session("a")
	assert.Equal(t, Stable, s.State())

	res, err = m.Offer(ctx, "a", sdpOffer)
	require.NoError(t, err)
	assert.Equal(t, domain.Dropped(domain.ReasonProtocolViolation), res, "duplicate offer")
	assert.Equal(t, 1, eng.get("a").answers)
	assert.Len(t, rec.kinds(), 1)
}

func TestManager_OfferCrossingOwnOffer(t *testing.T) {
	var eng engines
	rec := &recorder{}
	m := NewManager("a", eng.factory, rec)
	ctx := context.Background()

	_, err := m.Discover(ctx, "b")
	require.NoError(t, err)

	res, err := m.Offer(ctx, "b", sdpOffer)
	require.NoError(t, err)
	assert.Equal(t, domain.Dropped(domain.ReasonProtocolViolation), res)
	assert.Zero(t, eng.get("b").answers)
}

func TestManager_Answer(t *testing.T) {
	ctx := context.Background()

	t.Run("no session", func(t *testing.T) {
		var eng engines
		m := NewManager("a", eng.factory, &recorder{})
		res, err := m.Answer(ctx, "b", sdpAnswer)
		require.NoError(t, err)
		assert.Equal(t, domain.Dropped(domain.ReasonSessionNotFound), res)
		assert.Zero(t, m.Len(), "answers never create sessions")
	})

	t.Run("without local offer", func(t *testing.T) {
		var eng engines
		m := NewManager("b", eng.factory, &recorder{})
		_, err := m.Discover(ctx, "a")
		require.NoError(t, err)
		res, err := m.Answer(ctx, "a", sdpAnswer)
		require.NoError(t, err)
		assert.Equal(t, domain.Dropped(domain.ReasonProtocolViolation), res)
	})

	t.Run("applied once", func(t *testing.T) {
		var eng engines
		m := NewManager("a", eng.factory, &recorder{})
		_, err := m.Discover(ctx, "b")
		require.NoError(t, err)

		res, err := m.Answer(ctx, "b", sdpAnswer)
		require.NoError(t, err)
		assert.Equal(t, domain.Delivered, res)
		s, _ := m.Session("b")
		assert.Equal(t, Stable, s.State())

		res, err = m.Answer(ctx, "b", sdpAnswer)
		require.NoError(t, err)
		assert.Equal(t, domain.Dropped(domain.ReasonProtocolViolation), res)
	})
}

func TestManager_CandidatesBufferedUntilRemoteDescription(t *testing.T) {
	var eng engines
	m := NewManager("a", eng.factory, &recorder{})
	ctx := context.Background()

	_, err := m.Discover(ctx, "b")
	require.NoError(t, err)
	s, _ := m.Session("b")

	for _, c := range []json.RawMessage{cand1, cand2} {
		res, err := m.Candidate(ctx, "b", c)
		require.NoError(t, err)
		assert.Equal(t, domain.Delivered, res)
	}
	assert.Equal(t, 2, s.Pending())
	assert.Zero(t, eng.get("b").appliedCandidates())

	_, err = m.Answer(ctx, "b", sdpAnswer)
	require.NoError(t, err)
	assert.Zero(t, s.Pending())
	assert.Equal(t, 2, eng.get("b").appliedCandidates())

	_, err = m.Candidate(ctx, "b", cand1)
	require.NoError(t, err)
	assert.Equal(t, 3, eng.get("b").appliedCandidates())
}

func TestManager_CandidateWithoutSession(t *testing.T) {
	var eng engines
	m := NewManager("a", eng.factory, &recorder{})

	res, err := m.Candidate(context.Background(), "b", cand1)
	require.NoError(t, err)
	assert.Equal(t, domain.Dropped(domain.ReasonSessionNotFound), res)
	assert.Zero(t, m.Len())
}

func TestManager_InvalidRemote(t *testing.T) {
	var eng engines
	m := NewManager("a", eng.factory, &recorder{})
	_, err := m.Discover(context.Background(), "a")
	assert.Error(t, err)
	_, err = m.Offer(context.Background(), "", sdpOffer)
	assert.Error(t, err)
}

func TestManager_FactoryError(t *testing.T) {
	boom := errors.New("no camera")
	m := NewManager("a", func(domain.ConnID) (MediaEngine, error) { return nil, boom }, &recorder{})
	_, err := m.Discover(context.Background(), "b")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.Len())
}

func TestManager_RemoveAndReset(t *testing.T) {
	var eng engines
	m := NewManager("a", eng.factory, &recorder{})
	ctx := context.Background()
	for _, id := range []domain.ConnID{"b", "c", "d"} {
		_, err := m.Discover(ctx, id)
		require.NoError(t, err)
	}

	assert.True(t, m.Remove("b"))
	assert.False(t, m.Remove("b"))
	assert.True(t, eng.get("b").closed)
	assert.Equal(t, 2, m.Len())

	m.Reset()
	assert.Zero(t, m.Len())
	assert.True(t, eng.get("c").closed)
	assert.True(t, eng.get("d").closed)

	// A fresh session may be created after reset.
	res, err := m.Discover(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.Delivered, res)
}

func TestSession_LocalCandidatesForwarded(t *testing.T) {
	eng := &fakeEngine{}
	rec := &recorder{}
	s := NewSession("a", "b", eng, rec)

	eng.onICE(cand1)
	assert.Empty(t, rec.kinds(), "held until the offer is out")

	_, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []protocol.MsgType{protocol.TypeOffer, protocol.TypeICECandidate}, rec.kinds())
	assert.Equal(t, domain.ConnID("b"), rec.sent[1].To)
	assert.JSONEq(t, string(cand1), string(rec.sent[1].Candidate))

	eng.onICE(cand2)
	assert.Len(t, rec.kinds(), 3)

	require.NoError(t, s.Close())
	eng.onICE(cand1)
	assert.Len(t, rec.kinds(), 3, "closed sessions stay quiet")
}

func TestSession_CandidatesFollowDescription(t *testing.T) {
	t.Run("offer", func(t *testing.T) {
		eng := &fakeEngine{gathered: cand1}
		rec := &recorder{}
		s := NewSession("a", "b", eng, rec)

		res, err := s.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, domain.Delivered, res)
		assert.Equal(t, []protocol.MsgType{protocol.TypeOffer, protocol.TypeICECandidate}, rec.kinds())
	})

	t.Run("answer", func(t *testing.T) {
		eng := &fakeEngine{gathered: cand2}
		rec := &recorder{}
		s := NewSession("b", "a", eng, rec)

		res, err := s.HandleOffer(context.Background(), sdpOffer)
		require.NoError(t, err)
		assert.Equal(t, domain.Delivered, res)
		assert.Equal(t, []protocol.MsgType{protocol.TypeAnswer, protocol.TypeICECandidate}, rec.kinds())
	})
}

func TestSession_EngineErrorAllowsRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("offer", func(t *testing.T) {
		eng := &fakeEngine{failAccepts: 1}
		rec := &recorder{}
		s := NewSession("b", "a", eng, rec)

		_, err := s.HandleOffer(ctx, sdpOffer)
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, Uninitiated, s.State())

		// Candidates still wait for a remote description.
		_, err = s.HandleCandidate(ctx, cand1)
		require.NoError(t, err)
		assert.Equal(t, 1, s.Pending())

		res, err := s.HandleOffer(ctx, sdpOffer)
		require.NoError(t, err)
		assert.Equal(t, domain.Delivered, res)
		assert.Equal(t, Stable, s.State())
		assert.Equal(t, 1, eng.appliedCandidates())
		assert.Equal(t, []protocol.MsgType{protocol.TypeAnswer}, rec.kinds())
	})

	t.Run("answer", func(t *testing.T) {
		eng := &fakeEngine{failAccepts: 1}
		rec := &recorder{}
		s := NewSession("a", "b", eng, rec)
		_, err := s.Start(ctx)
		require.NoError(t, err)

		_, err = s.HandleAnswer(ctx, sdpAnswer)
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, LocalOfferSent, s.State())

		res, err := s.HandleAnswer(ctx, sdpAnswer)
		require.NoError(t, err)
		assert.Equal(t, domain.Delivered, res)
		assert.Equal(t, Stable, s.State())
	})
}

func TestSession_CloseCancelsInFlight(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{}), entered: make(chan struct{})}
	rec := &recorder{}
	s := NewSession("a", "b", eng, rec)

	type result struct {
		res domain.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.Start(context.Background())
		done <- result{res, err}
	}()
	<-eng.entered

	require.NoError(t, s.Close())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, domain.Dropped(domain.ReasonSessionClosed), r.res)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return after close")
	}
	assert.Equal(t, Closed, s.State())
	assert.Empty(t, rec.kinds())
	assert.True(t, eng.closed)

	res, err := s.HandleOffer(context.Background(), sdpOffer)
	require.NoError(t, err)
	assert.Equal(t, domain.Dropped(domain.ReasonSessionClosed), res)
}

func TestSession_SingleFlight(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{}), entered: make(chan struct{})}
	s := NewSession("a", "b", eng, &recorder{})

	go func() { _, _ = s.Start(context.Background()) }()
	<-eng.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.HandleCandidate(ctx, cand1)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "second operation waits for the first")

	close(eng.block)
	require.Eventually(t, func() bool { return s.State() == LocalOfferSent }, time.Second, 5*time.Millisecond)

	res, err := s.HandleCandidate(context.Background(), cand1)
	require.NoError(t, err)
	assert.Equal(t, domain.Delivered, res)
	assert.Equal(t, 1, s.Pending())
}

// link routes one manager's signals straight into the other's handlers.
type link struct {
	from domain.ConnID
	peer *Manager
}

func (l *link) Send(sig protocol.Signal) error {
	ctx := context.Background()
	var err error
	switch sig.Kind {
	case protocol.TypeOffer:
		_, err = l.peer.Offer(ctx, l.from, sig.SDP)
	case protocol.TypeAnswer:
		_, err = l.peer.Answer(ctx, l.from, sig.SDP)
	case protocol.TypeICECandidate:
		_, err = l.peer.Candidate(ctx, l.from, sig.Candidate)
	}
	return err
}

func TestManager_PairNegotiatesOnce(t *testing.T) {
	var ea, eb engines
	la, lb := &link{from: "a"}, &link{from: "b"}
	ma := NewManager("a", ea.factory, la)
	mb := NewManager("b", eb.factory, lb)
	la.peer, lb.peer = mb, ma
	ctx := context.Background()

	// b joined second: it learns about a from existing-users, a about b
	// from user-joined. Order does not matter.
	_, err := mb.Discover(ctx, "a")
	require.NoError(t, err)
	_, err = ma.Discover(ctx, "b")
	require.NoError(t, err)

	sa, _ := ma.Session("b")
	sb, _ := mb.Session("a")
	assert.Equal(t, Stable, sa.State())
	assert.Equal(t, Stable, sb.State())
	assert.Equal(t, 1, ea.get("b").offers)
	assert.Zero(t, eb.get("a").offers)
	assert.Equal(t, 1, eb.get("a").answers)

	// Candidates now flow both ways and are applied directly.
	ea.get("b").onICE(cand1)
	eb.get("a").onICE(cand2)
	assert.Equal(t, 1, eb.get("a").appliedCandidates())
	assert.Equal(t, 1, ea.get("b").appliedCandidates())
}
