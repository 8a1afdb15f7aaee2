package peer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/events"
	"github.com/dkeye/Huddle/internal/negotiation"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu      sync.Mutex
	offers  int
	answers int
	closed  bool
}

func (e *fakeEngine) CreateOffer(context.Context) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offers++
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (e *fakeEngine) AcceptOffer(context.Context, json.RawMessage) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answers++
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (e *fakeEngine) AcceptAnswer(context.Context, json.RawMessage) error { return nil }
func (e *fakeEngine) AddCandidate(context.Context, json.RawMessage) error { return nil }
func (e *fakeEngine) OnCandidate(func(json.RawMessage))                   {}

func (e *fakeEngine) offerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offers
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type engines struct {
	mu  sync.Mutex
	all map[domain.ConnID]*fakeEngine
}

func (es *engines) factory(remote domain.ConnID) (negotiation.MediaEngine, error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.all == nil {
		es.all = make(map[domain.ConnID]*fakeEngine)
	}
	e := &fakeEngine{}
	es.all[remote] = e
	return e, nil
}

func (es *engines) get(remote domain.ConnID) *fakeEngine {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.all[remote]
}

// sent pops the next queued frame and decodes it as the server would.
func sent(t *testing.T, c *Client) protocol.Inbound {
	t.Helper()
	select {
	case frame := <-c.send:
		msg, err := protocol.Decode(frame)
		require.NoError(t, err)
		return msg
	default:
		t.Fatal("nothing queued")
		return nil
	}
}

func connectedClient(t *testing.T, es *engines) *Client {
	t.Helper()
	c := New(Options{Room: "standup", Name: "Ann", UserID: "u-ann"}, es.factory)
	require.NoError(t, c.Handle(context.Background(), protocol.Connected{ConnectionID: "b"}))
	join, ok := sent(t, c).(protocol.JoinRoom)
	require.True(t, ok)
	assert.Equal(t, protocol.JoinRoom{RoomID: "standup", UserName: "Ann", UserID: "u-ann"}, join)
	return c
}

func TestClient_Connected(t *testing.T) {
	var es engines
	c := connectedClient(t, &es)
	assert.Equal(t, domain.ConnID("b"), c.ID())
	require.NotNil(t, c.Manager())
	assert.Equal(t, domain.ConnID("b"), c.Manager().Local())
}

func TestClient_ExistingUsers(t *testing.T) {
	var es engines
	c := connectedClient(t, &es)
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, protocol.ExistingUsers{
		RoomID: "standup",
		Users:  []protocol.Peer{{ConnectionID: "a"}, {ConnectionID: "c"}},
	}))
	assert.Equal(t, domain.RoomID("standup"), c.Room())
	assert.Equal(t, 2, c.Manager().Len())

	// b offers to c and waits for a's offer.
	offer, ok := sent(t, c).(protocol.Signal)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeOffer, offer.Kind)
	assert.Equal(t, domain.ConnID("c"), offer.To)
	assert.Equal(t, 1, es.get("c").offerCount())
	assert.Zero(t, es.get("a").offerCount())
	assert.Empty(t, c.send)

	require.NoError(t, c.Handle(ctx, protocol.RelayedSignal{
		Kind: protocol.TypeOffer, From: "a", SDP: json.RawMessage(`{"type":"offer","sdp":"x"}`),
	}))
	answer, ok := sent(t, c).(protocol.Signal)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeAnswer, answer.Kind)
	assert.Equal(t, domain.ConnID("a"), answer.To)

	require.NoError(t, c.Handle(ctx, protocol.RelayedSignal{
		Kind: protocol.TypeAnswer, From: "c", SDP: json.RawMessage(`{"type":"answer","sdp":"y"}`),
	}))
	sc, _ := c.Manager().Session("c")
	sa, _ := c.Manager().Session("a")
	assert.Equal(t, negotiation.Stable, sc.State())
	assert.Equal(t, negotiation.Stable, sa.State())
}

func TestClient_UserLeftAndReturnToMain(t *testing.T) {
	var es engines
	c := connectedClient(t, &es)
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, protocol.UserJoined{Peer: protocol.Peer{ConnectionID: "a"}}))
	require.NoError(t, c.Handle(ctx, protocol.UserJoined{Peer: protocol.Peer{ConnectionID: "c"}}))
	require.Equal(t, 2, c.Manager().Len())

	require.NoError(t, c.Handle(ctx, protocol.UserLeft{ConnectionID: "a"}))
	assert.Equal(t, 1, c.Manager().Len())
	assert.True(t, es.get("a").isClosed())

	require.NoError(t, c.Handle(ctx, protocol.ReturnToMain{MeetingID: "standup"}))
	assert.Zero(t, c.Manager().Len())
	assert.True(t, es.get("c").isClosed())
}

func TestClient_Banned(t *testing.T) {
	var es engines
	c := connectedClient(t, &es)
	err := c.Handle(context.Background(), protocol.Banned{Message: "bye"})
	assert.ErrorIs(t, err, ErrBanned)
}

func TestClient_IgnoresBeforeConnected(t *testing.T) {
	var es engines
	c := New(Options{Room: "standup", Name: "Ann"}, es.factory)
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, protocol.UserJoined{Peer: protocol.Peer{ConnectionID: "a"}}))
	require.NoError(t, c.Handle(ctx, protocol.Error{Code: domain.ReasonUnauthorized, Message: "no"}))
	assert.Nil(t, c.Manager())
	assert.Empty(t, c.send)
	assert.ErrorIs(t, c.Switch("other"), ErrNotConnected)
}

func TestClient_Switch(t *testing.T) {
	var es engines
	c := connectedClient(t, &es)
	require.NoError(t, c.Handle(context.Background(), protocol.UserJoined{Peer: protocol.Peer{ConnectionID: "c"}}))
	_ = sent(t, c) // offer to c

	require.NoError(t, c.Switch("standup-breakout-1"))
	assert.Zero(t, c.Manager().Len())
	sw, ok := sent(t, c).(protocol.SwitchRoom)
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("standup-breakout-1"), sw.TargetRoomID)
}

func TestClient_SendQueueFull(t *testing.T) {
	var es engines
	c := New(Options{Room: "standup", Name: "Ann", SendBuffer: 1}, es.factory)
	require.NoError(t, c.Send(protocol.Signal{Kind: protocol.TypeOffer, To: "a", SDP: json.RawMessage(`{}`)}))
	assert.ErrorIs(t, c.Send(protocol.Signal{Kind: protocol.TypeOffer, To: "a", SDP: json.RawMessage(`{}`)}), ErrSendQueue)
}

func TestClient_RunWithoutEngine(t *testing.T) {
	c := New(Options{ServerURL: "ws://127.0.0.1:1/ws"}, nil)
	assert.Error(t, c.Run(context.Background()))
}

func newServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.SignalConfig{
		ReadLimit:  65536,
		PingPeriod: time.Second,
		PongWait:   2 * time.Second,
		WriteWait:  time.Second,
		SendBuffer: 32,
	}
	loop := orch.NewLoop(orch.New(orch.Options{}, events.Nop{}), app.NewRegistry(), app.SimplePolicy{}, 64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()

	ctrl := signal.NewSignalWSController(loop, cfg)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", "token")
		ctrl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestClient_NegotiatesThroughServer(t *testing.T) {
	url := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ea, eb engines
	ann := New(Options{ServerURL: url, Room: "standup", Name: "Ann"}, ea.factory)
	bob := New(Options{ServerURL: url, Room: "standup", Name: "Bob"}, eb.factory)

	done := make(chan error, 2)
	go func() { done <- ann.Run(ctx) }()
	require.Eventually(t, func() bool { return ann.Manager() != nil }, 3*time.Second, 10*time.Millisecond)
	go func() { done <- bob.Run(ctx) }()

	stable := func(c, other *Client) bool {
		m := c.Manager()
		if m == nil || other.ID() == "" {
			return false
		}
		s, ok := m.Session(other.ID())
		return ok && s.State() == negotiation.Stable
	}
	require.Eventually(t, func() bool {
		return stable(ann, bob) && stable(bob, ann)
	}, 5*time.Second, 20*time.Millisecond)

	offers := 0
	if e := ea.get(bob.ID()); e != nil {
		offers += e.offerCount()
	}
	if e := eb.get(ann.ID()); e != nil {
		offers += e.offerCount()
	}
	assert.Equal(t, 1, offers, "exactly one side offers")

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("client did not stop")
		}
	}
}
