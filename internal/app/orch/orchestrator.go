package orch

import (
	"context"
	"time"

	"github.com/dkeye/Huddle/internal/authority"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/events"
	"github.com/dkeye/Huddle/internal/presence"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/dkeye/Huddle/internal/relay"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// RejectNotices answers dropped events with an error message instead of
	// dropping them silently.
	RejectNotices          bool
	PersistBans            bool
	PromoteCohostOnVacancy bool
	MaxBreakoutRooms       int
	MaxChatLength          int
}

// Orchestrator turns inbound events into registry mutations and outbound
// deliveries. It is driven by a single Loop and is not safe for concurrent
// use.
type Orchestrator struct {
	Registry  *core.Registry
	Relay     *relay.Relay
	Authority *authority.Controller
	Presence  *presence.Broadcaster
	Events    events.Publisher
	Opts      Options

	now func() time.Time
}

func New(opts Options, pub events.Publisher) *Orchestrator {
	if opts.MaxBreakoutRooms <= 0 || opts.MaxBreakoutRooms > domain.MaxBreakoutRooms {
		opts.MaxBreakoutRooms = domain.MaxBreakoutRooms
	}
	if opts.MaxChatLength <= 0 {
		opts.MaxChatLength = 2000
	}
	if pub == nil {
		pub = events.Nop{}
	}
	reg := core.NewRegistry()
	ctl := authority.NewController(reg)
	ctl.PromoteOnVacancy = opts.PromoteCohostOnVacancy
	return &Orchestrator{
		Registry:  reg,
		Relay:     relay.New(reg.Directory()),
		Authority: ctl,
		Presence:  presence.NewBroadcaster(reg.Directory()),
		Events:    pub,
		Opts:      opts,
		now:       time.Now,
	}
}

// Outcome is what handling one event produced.
type Outcome struct {
	Result     domain.Result
	Deliveries []protocol.Delivery
}

// Connect greets a fresh transport with its connection id.
func (o *Orchestrator) Connect(id domain.ConnID) Outcome {
	return Outcome{
		Result:     domain.Delivered,
		Deliveries: []protocol.Delivery{{To: id, Msg: protocol.Connected{ConnectionID: id}}},
	}
}

// Disconnect removes a connection that went away.
func (o *Orchestrator) Disconnect(id domain.ConnID) Outcome {
	b := o.newBatch()
	res := o.leave(b, id, "")
	return Outcome{Result: res, Deliveries: b.out}
}

func (o *Orchestrator) Handle(from domain.ConnID, msg protocol.Inbound) Outcome {
	b := o.newBatch()
	res := o.dispatch(b, from, msg)
	if res.Dropped() {
		o.logDrop(from, msg.MessageType(), res)
		if o.Opts.RejectNotices {
			b.to(from, protocol.Error{Code: res.Reason, Message: string(msg.MessageType())})
		}
	}
	return Outcome{Result: res, Deliveries: b.out}
}

func (o *Orchestrator) dispatch(b *batch, from domain.ConnID, msg protocol.Inbound) domain.Result {
	switch m := msg.(type) {
	case protocol.JoinRoom:
		return o.join(b, from, m)
	case protocol.GetRoomStatus:
		return o.roomStatus(b, from)
	}
	if !o.Registry.Directory().Has(from) {
		return domain.Dropped(domain.ReasonUnknownConnection)
	}

	switch m := msg.(type) {
	case protocol.Signal:
		return o.relaySignal(b, from, m)
	case protocol.SwitchRoom:
		return o.switchRoom(b, from, m.TargetRoomID)
	case protocol.MediaState:
		return o.mediaState(b, from, m)
	case protocol.ChatMessage:
		return o.chat(b, from, m)
	case protocol.ScreenShare:
		return o.screenShare(b, from, m)
	case protocol.UpdateSettings:
		return o.updateSettings(b, from, m)
	case protocol.GrantHost:
		return o.grant(b, from, m.Target)
	case protocol.RevokeHost:
		return o.revoke(b, from, m.Target)
	case protocol.MuteAll:
		return o.advisory(b, from, protocol.ForceMute{By: from})
	case protocol.DisableAllCameras:
		return o.advisory(b, from, protocol.ForceDisableCamera{By: from})
	case protocol.BanParticipant:
		return o.ban(b, from, m.Target)
	case protocol.BreakoutRoomsUpdate:
		return o.updateBreakouts(b, from, m)
	case protocol.CloseBreakouts:
		return o.closeBreakouts(b, from, m)
	default:
		return domain.Dropped(domain.ReasonProtocolViolation)
	}
}

func (o *Orchestrator) relaySignal(b *batch, from domain.ConnID, sig protocol.Signal) domain.Result {
	d, res := o.Relay.Relay(from, sig)
	if res.Dropped() {
		return res
	}
	b.add(d)
	return res
}

func (o *Orchestrator) logDrop(from domain.ConnID, t protocol.MsgType, res domain.Result) {
	ev := log.Debug()
	if res.Reason == domain.ReasonProtocolViolation || res.Reason == domain.ReasonInvalidPayload {
		ev = log.Warn()
	}
	ev.Str("module", "orch").Str("conn", string(from)).Str("type", string(t)).
		Str("reason", string(res.Reason)).Msg("event dropped")
}

func (o *Orchestrator) publish(typ string, meeting domain.RoomID, payload any) {
	ev, err := events.NewEvent(typ, string(meeting), payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("build event")
		return
	}
	if err := o.Events.Publish(context.Background(), ev); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("type", typ).Msg("publish event")
	}
}

// batch collects the deliveries of one handler run.
type batch struct {
	reg *core.Registry
	out []protocol.Delivery
}

func (o *Orchestrator) newBatch() *batch {
	return &batch{reg: o.Registry}
}

func (b *batch) add(ds ...protocol.Delivery) {
	b.out = append(b.out, ds...)
}

func (b *batch) to(id domain.ConnID, msg protocol.Outbound) {
	b.out = append(b.out, protocol.Delivery{To: id, Msg: msg})
}

func (b *batch) many(ids []domain.ConnID, msg protocol.Outbound) {
	for _, id := range ids {
		b.to(id, msg)
	}
}

// room sends msg to every current member of a room except one.
func (b *batch) room(roomID domain.RoomID, msg protocol.Outbound, except domain.ConnID) {
	room, ok := b.reg.Get(roomID)
	if !ok {
		return
	}
	for _, id := range room.Members() {
		if id != except {
			b.to(id, msg)
		}
	}
}

// meeting sends msg to every connection of a meeting, whatever its room.
func (b *batch) meeting(meetingID domain.RoomID, msg protocol.Outbound) {
	for _, c := range b.reg.Directory().InMeeting(meetingID) {
		b.to(c.ID, msg)
	}
}

func (b *batch) terminate(id domain.ConnID, msg protocol.Outbound) {
	b.out = append(b.out, protocol.Delivery{To: id, Msg: msg, Terminate: true})
}
