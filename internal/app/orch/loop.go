package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrLoopStopped = errors.New("coordinator loop stopped")

type eventKind int

const (
	evConnect eventKind = iota
	evMessage
	evDisconnect
	evQuery
)

type loopEvent struct {
	kind   eventKind
	id     domain.ConnID
	conn   core.Transport
	cancel context.CancelFunc
	msg    protocol.Inbound
	query  func(*Orchestrator)
	done   chan struct{}
}

// Loop serializes every event touching the registry. Each event runs to
// completion, including its fan-out, before the next one starts.
type Loop struct {
	orch     *Orchestrator
	sessions *app.Registry
	policy   app.Policy

	events  chan loopEvent
	stopped chan struct{}
}

func NewLoop(o *Orchestrator, sessions *app.Registry, policy app.Policy, buffer int) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Loop{
		orch:     o,
		sessions: sessions,
		policy:   policy,
		events:   make(chan loopEvent, buffer),
		stopped:  make(chan struct{}),
	}
}

// Run processes events until ctx is done, then closes every transport.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	log.Info().Str("module", "orch.loop").Msg("coordinator loop started")
	for {
		select {
		case <-ctx.Done():
			l.sessions.CloseAll()
			log.Info().Str("module", "orch.loop").Msg("coordinator loop stopped")
			return nil
		case ev := <-l.events:
			l.process(ev)
		}
	}
}

func (l *Loop) Connect(ctx context.Context, id domain.ConnID, conn core.Transport, cancel context.CancelFunc) error {
	return l.submit(ctx, loopEvent{kind: evConnect, id: id, conn: conn, cancel: cancel})
}

func (l *Loop) Submit(ctx context.Context, id domain.ConnID, msg protocol.Inbound) error {
	return l.submit(ctx, loopEvent{kind: evMessage, id: id, msg: msg})
}

func (l *Loop) Disconnect(ctx context.Context, id domain.ConnID) error {
	return l.submit(ctx, loopEvent{kind: evDisconnect, id: id})
}

// Query runs fn inside the loop and waits for it.
func (l *Loop) Query(ctx context.Context, fn func(*Orchestrator)) error {
	done := make(chan struct{})
	if err := l.submit(ctx, loopEvent{kind: evQuery, query: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrLoopStopped
	}
}

func (l *Loop) submit(ctx context.Context, ev loopEvent) error {
	select {
	case <-l.stopped:
		return ErrLoopStopped
	default:
	}
	select {
	case l.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrLoopStopped
	}
}

func (l *Loop) process(ev loopEvent) {
	switch ev.kind {
	case evConnect:
		l.sessions.Bind(ev.id, ev.conn, ev.cancel)
		l.deliver(l.orch.Connect(ev.id))
	case evMessage:
		l.deliver(l.orch.Handle(ev.id, ev.msg))
	case evDisconnect:
		l.sessions.Unbind(ev.id)
		l.deliver(l.orch.Disconnect(ev.id))
	case evQuery:
		ev.query(l.orch)
		close(ev.done)
	}
}

// deliver hands each delivery to its transport. Deliveries caused by
// kicking a slow connection are appended and delivered in the same pass.
func (l *Loop) deliver(out Outcome) {
	queue := out.Deliveries
	for i := 0; i < len(queue); i++ {
		d := queue[i]
		conn, ok := l.sessions.Get(d.To)
		if !ok {
			continue
		}
		if d.Msg != nil {
			if err := l.send(conn, d.Msg); err != nil {
				action := l.policy.OnBackPressure(d.To, d.Msg.MessageType())
				log.Warn().Err(err).Str("module", "orch.loop").Str("conn", string(d.To)).
					Str("type", string(d.Msg.MessageType())).Int("action", int(action)).Msg("send failed")
				if action == app.KickMember && !d.Terminate {
					queue = append(queue, l.kick(d.To, conn)...)
					continue
				}
			}
		}
		if d.Terminate {
			l.drop(d.To, conn)
		}
	}
}

func (l *Loop) send(conn core.Transport, msg protocol.Outbound) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return conn.TrySend(frame)
}

func (l *Loop) kick(id domain.ConnID, conn core.Transport) []protocol.Delivery {
	log.Warn().Str("module", "orch.loop").Str("conn", string(id)).Msg("kicking slow connection")
	l.drop(id, conn)
	return l.orch.Disconnect(id).Deliveries
}

// drop cancels the connection's context so its reader stops submitting,
// then closes the transport once queued frames are flushed.
func (l *Loop) drop(id domain.ConnID, conn core.Transport) {
	l.sessions.Cancel(id)
	l.sessions.Unbind(id)
	conn.Close()
}
