package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.ConnID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(
	ctx context.Context,
	id domain.ConnID,
	token domain.UserID,
	c *WsSignalConn,
	cancel context.CancelFunc,
) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		if err := ctl.Loop.Disconnect(context.Background(), id); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("disconnect after loop stop")
		}
		ctl.Limiter.Forget(id)
		c.Close()
		cancel()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !ctl.Limiter.Allow(id) {
			ctl.reject(id, c, domain.ReasonRateLimited, "")
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad message")
			reason := domain.ReasonInvalidPayload
			if errors.Is(err, protocol.ErrUnknownType) {
				reason = domain.ReasonProtocolViolation
			}
			ctl.reject(id, c, reason, err.Error())
			continue
		}
		if join, ok := msg.(protocol.JoinRoom); ok && join.UserID == "" {
			join.UserID = token
			msg = join
		}
		if err := ctl.Loop.Submit(ctx, id, msg); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("submit")
			return
		}
	}
}

// reject drops a frame that never reached the coordinator, optionally
// telling the client why.
func (ctl *SignalWSController) reject(id domain.ConnID, c *WsSignalConn, reason domain.DropReason, detail string) {
	log.Debug().Str("module", "signal").Str("conn", string(id)).Str("reason", string(reason)).Msg("frame dropped")
	if !ctl.Cfg.RejectNotices {
		return
	}
	frame, err := protocol.Encode(protocol.Error{Code: reason, Message: detail})
	if err != nil {
		return
	}
	_ = c.TrySend(frame)
}
