package orch

import (
	"github.com/dkeye/Huddle/internal/authority"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/events"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) grant(b *batch, from, target domain.ConnID) domain.Result {
	ch, res := o.Authority.Grant(from, target)
	if res.Dropped() {
		return res
	}
	o.authorityChanged(b, from, ch)
	return res
}

func (o *Orchestrator) revoke(b *batch, from, target domain.ConnID) domain.Result {
	ch, res := o.Authority.Revoke(from, target)
	if res.Dropped() {
		return res
	}
	o.authorityChanged(b, from, ch)
	return res
}

func (o *Orchestrator) authorityChanged(b *batch, by domain.ConnID, ch authority.Change) {
	b.to(ch.Target, hostStatus(ch.Authority))
	o.hostList(b, ch.Meeting)
	b.add(o.Presence.Broadcast(ch.Meeting.ID)...)
	o.publish(events.TypeAuthorityChanged, ch.Meeting.ID, events.AuthorityPayload{
		ConnectionID: string(ch.Target),
		Authority:    string(ch.Authority),
		By:           string(by),
	})
}

// advisory fans a force-* instruction out to the actor's current room.
// Nothing checks that recipients comply.
func (o *Orchestrator) advisory(b *batch, from domain.ConnID, msg protocol.Outbound) domain.Result {
	conn, _, res := o.Authority.Authorize(from)
	if res.Dropped() {
		return res
	}
	b.room(conn.CurrentRoom, msg, from)
	return res
}

func (o *Orchestrator) ban(b *batch, from, target domain.ConnID) domain.Result {
	t, m, res := o.Authority.Bannable(from, target)
	if res.Dropped() {
		return res
	}
	if o.Opts.PersistBans {
		m.Ban(t.UserID)
	}
	log.Info().Str("module", "orch").Str("meeting", string(m.ID)).Str("by", string(from)).
		Str("conn", string(t.ID)).Bool("persisted", o.Opts.PersistBans).Msg("ban")

	b.terminate(t.ID, protocol.Banned{Message: bannedMessage})
	o.leave(b, t.ID, protocol.ReasonBanned)
	o.publish(events.TypeParticipantBanned, m.ID, events.ParticipantPayload{
		ConnectionID: string(t.ID),
		UserID:       string(t.UserID),
		UserName:     t.DisplayName,
		By:           string(from),
	})
	return domain.Delivered
}

// updateBreakouts replaces the meeting's declared breakout rooms and sends
// the list to the whole meeting.
func (o *Orchestrator) updateBreakouts(b *batch, from domain.ConnID, msg protocol.BreakoutRoomsUpdate) domain.Result {
	_, m, res := o.Authority.Authorize(from)
	if res.Dropped() {
		return res
	}
	if msg.MeetingID != "" && msg.MeetingID != m.ID {
		return domain.Dropped(domain.ReasonUnauthorized)
	}

	if len(msg.Rooms) == 0 && msg.Count > 0 {
		msg.Rooms = domain.NewBreakoutRooms(m.ID, domain.ClampBreakoutCount(msg.Count, o.Opts.MaxBreakoutRooms))
	}

	seen := make(map[domain.RoomID]bool, len(msg.Rooms))
	rooms := make([]domain.BreakoutRoom, 0, len(msg.Rooms))
	for _, r := range msg.Rooms {
		id, ok := normalizeRoomID(r.ID)
		if !ok || id == m.ID || seen[id] {
			continue
		}
		if len(rooms) == o.Opts.MaxBreakoutRooms {
			break
		}
		seen[id] = true
		r.ID = id
		r.ParentMeetingID = m.ID
		if r.DisplayName == "" {
			r.DisplayName = string(id)
		}
		rooms = append(rooms, r)
	}
	m.Breakouts = rooms
	b.meeting(m.ID, protocol.BreakoutRoomsUpdated{MeetingID: m.ID, Rooms: rooms})

	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, string(r.ID))
	}
	o.publish(events.TypeBreakoutsUpdated, m.ID, events.BreakoutsPayload{RoomIDs: ids, By: string(from)})
	return domain.Delivered
}

// closeBreakouts clears the declared breakouts and pulls every connection
// outside the root room back into it.
func (o *Orchestrator) closeBreakouts(b *batch, from domain.ConnID, msg protocol.CloseBreakouts) domain.Result {
	_, m, res := o.Authority.Authorize(from)
	if res.Dropped() {
		return res
	}
	if msg.MeetingID != "" && msg.MeetingID != m.ID {
		return domain.Dropped(domain.ReasonUnauthorized)
	}

	m.Breakouts = nil
	b.meeting(m.ID, protocol.BreakoutRoomsUpdated{MeetingID: m.ID, Rooms: []domain.BreakoutRoom{}})
	for _, c := range o.Registry.Directory().InMeeting(m.ID) {
		if c.CurrentRoom == m.ID {
			continue
		}
		b.to(c.ID, protocol.ReturnToMain{MeetingID: m.ID})
		o.migrate(b, c.ID, m.ID)
	}
	o.publish(events.TypeBreakoutsUpdated, m.ID, events.BreakoutsPayload{RoomIDs: []string{}, By: string(from)})
	return domain.Delivered
}
