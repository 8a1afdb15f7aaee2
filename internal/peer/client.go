// Package peer is a headless meeting participant. It joins a room over the
// signaling websocket and negotiates a data-channel session with every
// room-mate.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/negotiation"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBanned       = errors.New("banned from meeting")
	ErrNotConnected = errors.New("not connected")
	ErrSendQueue    = errors.New("send queue full")
)

type Options struct {
	ServerURL  string
	Room       domain.RoomID
	Name       string
	UserID     domain.UserID
	SendBuffer int
	WriteWait  time.Duration
}

type Client struct {
	opts    Options
	factory negotiation.EngineFactory
	dialer  *websocket.Dialer

	send chan []byte

	mu      sync.Mutex
	id      domain.ConnID
	room    domain.RoomID
	manager *negotiation.Manager
}

func New(opts Options, factory negotiation.EngineFactory) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	return &Client{
		opts:    opts,
		factory: factory,
		dialer:  websocket.DefaultDialer,
		send:    make(chan []byte, opts.SendBuffer),
		room:    opts.Room,
	}
}

func (c *Client) ID() domain.ConnID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) Room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Manager is nil until the server has assigned a connection id.
func (c *Client) Manager() *negotiation.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager
}

// Run dials the server and pumps frames until ctx is done, the socket
// closes or the participant is banned.
func (c *Client) Run(ctx context.Context) error {
	if c.factory == nil {
		return errors.New("no media engine")
	}
	ws, _, err := c.dialer.DialContext(ctx, c.opts.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.ServerURL, err)
	}
	log.Info().Str("module", "peer").Str("url", c.opts.ServerURL).Msg("connected to signaling server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ws.Close()
	})
	g.Go(func() error { return c.readLoop(gctx, ws) })
	g.Go(func() error { return c.writeLoop(gctx, ws) })

	err = g.Wait()
	if m := c.Manager(); m != nil {
		m.Reset()
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("undecodable frame")
			continue
		}
		if err := c.Handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.opts.WriteWait))
			return ctx.Err()
		case frame := <-c.send:
			if err := ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return err
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// Handle reacts to one server message. A non-nil error ends the session.
func (c *Client) Handle(ctx context.Context, msg protocol.Outbound) error {
	switch m := msg.(type) {
	case protocol.Connected:
		return c.onConnected(m)
	case protocol.ExistingUsers:
		c.mu.Lock()
		c.room = m.RoomID
		c.mu.Unlock()
		for _, p := range m.Users {
			c.discover(ctx, p.ConnectionID)
		}
	case protocol.UserJoined:
		c.discover(ctx, m.ConnectionID)
	case protocol.UserLeft:
		if mgr := c.Manager(); mgr != nil {
			mgr.Remove(m.ConnectionID)
		}
	case protocol.RelayedSignal:
		c.onSignal(ctx, m)
	case protocol.ReturnToMain:
		if mgr := c.Manager(); mgr != nil {
			mgr.Reset()
		}
	case protocol.Banned:
		log.Warn().Str("module", "peer").Str("message", m.Message).Msg("banned")
		return ErrBanned
	case protocol.Error:
		log.Warn().Str("module", "peer").Str("code", string(m.Code)).Str("message", m.Message).Msg("server rejected message")
	default:
		log.Debug().Str("module", "peer").Str("type", string(msg.MessageType())).Msg("ignored")
	}
	return nil
}

// Send implements negotiation.Signaler.
func (c *Client) Send(sig protocol.Signal) error {
	return c.enqueue(sig)
}

// Switch leaves the current room's sessions behind and asks to move.
func (c *Client) Switch(room domain.RoomID) error {
	mgr := c.Manager()
	if mgr == nil {
		return ErrNotConnected
	}
	mgr.Reset()
	return c.enqueue(protocol.SwitchRoom{TargetRoomID: room})
}

func (c *Client) onConnected(m protocol.Connected) error {
	c.mu.Lock()
	c.id = m.ConnectionID
	c.manager = negotiation.NewManager(m.ConnectionID, c.factory, c)
	c.mu.Unlock()
	log.Info().Str("module", "peer").Str("conn", string(m.ConnectionID)).Str("room", string(c.opts.Room)).Msg("joining")
	return c.enqueue(protocol.JoinRoom{
		RoomID:   c.opts.Room,
		UserName: c.opts.Name,
		UserID:   c.opts.UserID,
	})
}

func (c *Client) discover(ctx context.Context, remote domain.ConnID) {
	mgr := c.Manager()
	if mgr == nil {
		return
	}
	res, err := mgr.Discover(ctx, remote)
	c.logResult(protocol.TypeUserJoined, remote, res, err)
}

func (c *Client) onSignal(ctx context.Context, m protocol.RelayedSignal) {
	mgr := c.Manager()
	if mgr == nil {
		return
	}
	var (
		res domain.Result
		err error
	)
	switch m.Kind {
	case protocol.TypeOffer:
		res, err = mgr.Offer(ctx, m.From, m.SDP)
	case protocol.TypeAnswer:
		res, err = mgr.Answer(ctx, m.From, m.SDP)
	case protocol.TypeICECandidate:
		res, err = mgr.Candidate(ctx, m.From, m.Candidate)
	default:
		return
	}
	c.logResult(m.Kind, m.From, res, err)
}

func (c *Client) logResult(kind protocol.MsgType, remote domain.ConnID, res domain.Result, err error) {
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("type", string(kind)).Str("remote", string(remote)).Msg("negotiation failed")
		return
	}
	if res.Dropped() {
		log.Debug().Str("module", "peer").Str("type", string(kind)).Str("remote", string(remote)).
			Str("reason", string(res.Reason)).Msg("negotiation step dropped")
	}
}

func (c *Client) enqueue(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueue
	}
}
