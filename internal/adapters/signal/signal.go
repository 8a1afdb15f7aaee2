package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type SignalWSController struct {
	Loop    *orch.Loop
	Cfg     config.SignalConfig
	Limiter *RateLimiter
}

func NewSignalWSController(loop *orch.Loop, cfg config.SignalConfig) *SignalWSController {
	return &SignalWSController{
		Loop:    loop,
		Cfg:     cfg,
		Limiter: NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}
}

// WsSignalConn is the outbound half of a websocket. Frames are queued and
// written by writePump; Close lets the queue drain before the socket closes.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.Transport = (*WsSignalConn)(nil)

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := domain.UserID(c.GetString("client_token"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.NewConnID()
	conn := newWsSignalConn(ws, ctl.Cfg.SendBuffer)
	// connCtx stops the reader when the coordinator drops the connection.
	// The writer keeps the server ctx so it can flush a final frame.
	connCtx, cancel := context.WithCancel(ctx)
	if err := ctl.Loop.Connect(connCtx, id, conn, cancel); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("register connection")
		cancel()
		_ = ws.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(connCtx, id, token, conn, cancel)
}
