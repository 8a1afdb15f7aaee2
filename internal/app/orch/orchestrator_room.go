package orch

import (
	"errors"
	"strings"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/events"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	maxRoomIDLen  = 128
	bannedMessage = "You have been removed from this meeting by the host"
)

func (o *Orchestrator) join(b *batch, id domain.ConnID, m protocol.JoinRoom) domain.Result {
	roomID, ok := normalizeRoomID(m.RoomID)
	if !ok {
		return domain.Dropped(domain.ReasonInvalidPayload)
	}
	name, err := domain.NormalizeUsername(m.UserName)
	if err != nil {
		return domain.Dropped(domain.ReasonInvalidPayload)
	}
	uid, err := domain.NormalizeUserID(string(m.UserID))
	if err != nil {
		return domain.Dropped(domain.ReasonInvalidPayload)
	}

	// A breakout link joins the parent meeting directly.
	meetingID := roomID
	if parent, _, ok := domain.ParseBreakoutRoomID(roomID); ok {
		meetingID = parent
	}

	out, err := o.Registry.Join(core.JoinParams{
		ID:          id,
		UserID:      uid,
		DisplayName: name,
		RoomID:      roomID,
		MeetingID:   meetingID,
	})
	switch {
	case errors.Is(err, core.ErrAlreadyJoined):
		return domain.Dropped(domain.ReasonProtocolViolation)
	case errors.Is(err, core.ErrBanned):
		b.terminate(id, protocol.Banned{Message: bannedMessage})
		return domain.Dropped(domain.ReasonBanned)
	case err != nil:
		log.Error().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("join")
		return domain.Dropped(domain.ReasonProtocolViolation)
	}

	conn := out.Conn
	b.many(out.Peers, protocol.UserJoined{Peer: peerOf(conn)})
	b.to(id, protocol.ExistingUsers{RoomID: out.Room.ID, Users: o.peers(out.Peers)})
	b.to(id, protocol.RoomSettings{RoomID: out.Room.ID, Settings: out.Room.Settings.Clone()})
	b.to(id, hostStatus(conn.Authority))
	if len(out.Meeting.Breakouts) > 0 {
		b.to(id, protocol.BreakoutRoomsUpdated{MeetingID: out.Meeting.ID, Rooms: out.Meeting.Breakouts})
	}
	o.hostList(b, out.Meeting)
	b.add(o.Presence.Broadcast(conn.MeetingID)...)

	if out.MeetingCreated {
		o.publish(events.TypeMeetingStarted, conn.MeetingID, events.ParticipantPayload{
			ConnectionID: string(id), UserID: string(conn.UserID), UserName: conn.DisplayName,
		})
	}
	o.publish(events.TypeParticipantJoined, conn.MeetingID, events.ParticipantPayload{
		ConnectionID: string(id),
		UserID:       string(conn.UserID),
		UserName:     conn.DisplayName,
		RoomID:       string(conn.CurrentRoom),
	})
	return domain.Delivered
}

// leave removes a connection and tells whoever is left. reason is carried
// on user-left, e.g. "banned".
func (o *Orchestrator) leave(b *batch, id domain.ConnID, reason string) domain.Result {
	out, ok := o.Registry.Leave(id)
	if !ok {
		return domain.Dropped(domain.ReasonUnknownConnection)
	}
	conn := out.Conn
	b.many(out.Remaining, protocol.UserLeft{
		ConnectionID: id,
		UserName:     conn.DisplayName,
		Reason:       reason,
	})
	o.publish(events.TypeParticipantLeft, conn.MeetingID, events.ParticipantPayload{
		ConnectionID: string(id),
		UserID:       string(conn.UserID),
		RoomID:       string(conn.CurrentRoom),
		Reason:       reason,
	})
	if out.MeetingEnded {
		o.publish(events.TypeMeetingEnded, conn.MeetingID, nil)
		return domain.Delivered
	}

	m := out.Meeting
	if out.WasHost {
		if ch, ok := o.Authority.FillVacancy(m); ok {
			b.to(ch.Target, hostStatus(ch.Authority))
			o.publish(events.TypeAuthorityChanged, m.ID, events.AuthorityPayload{
				ConnectionID: string(ch.Target), Authority: string(ch.Authority),
			})
		}
	}
	if out.WasHost || out.WasCohost {
		o.hostList(b, m)
	}
	b.add(o.Presence.Broadcast(m.ID)...)
	return domain.Delivered
}

// switchRoom only moves a connection within its own meeting: the root, a
// declared breakout or a breakout id derived from the meeting id.
func (o *Orchestrator) switchRoom(b *batch, id domain.ConnID, target domain.RoomID) domain.Result {
	target, ok := normalizeRoomID(target)
	if !ok {
		return domain.Dropped(domain.ReasonInvalidPayload)
	}
	m, ok := o.Registry.MeetingOf(id)
	if !ok {
		return domain.Dropped(domain.ReasonUnknownConnection)
	}
	if !inMeeting(m, target) {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("meeting", string(m.ID)).
			Str("room", string(target)).Msg("switch outside meeting")
		return domain.Dropped(domain.ReasonProtocolViolation)
	}
	return o.migrate(b, id, target)
}

func inMeeting(m *core.Meeting, room domain.RoomID) bool {
	if room == m.ID {
		return true
	}
	if parent, _, ok := domain.ParseBreakoutRoomID(room); ok && parent == m.ID {
		return true
	}
	for _, br := range m.Breakouts {
		if br.ID == room {
			return true
		}
	}
	return false
}

// migrate moves a connection to another room of any name; return-to-main
// is a migrate to the meeting id.
func (o *Orchestrator) migrate(b *batch, id domain.ConnID, target domain.RoomID) domain.Result {
	target, ok := normalizeRoomID(target)
	if !ok {
		return domain.Dropped(domain.ReasonInvalidPayload)
	}
	out, err := o.Registry.Move(id, target)
	switch {
	case errors.Is(err, core.ErrUnknownConnection):
		return domain.Dropped(domain.ReasonUnknownConnection)
	case errors.Is(err, core.ErrSameRoom):
		return domain.Dropped(domain.ReasonNoop)
	case err != nil:
		return domain.Dropped(domain.ReasonProtocolViolation)
	}

	conn := out.Conn
	b.many(out.FromRemaining, protocol.UserLeft{ConnectionID: id, UserName: conn.DisplayName})
	b.many(out.ToPeers, protocol.UserJoined{Peer: peerOf(conn)})
	b.to(id, protocol.ExistingUsers{RoomID: out.To.ID, Users: o.peers(out.ToPeers)})
	b.to(id, protocol.RoomSettings{RoomID: out.To.ID, Settings: out.To.Settings.Clone()})
	b.add(o.Presence.Broadcast(conn.MeetingID)...)

	o.publish(events.TypeParticipantMoved, conn.MeetingID, events.ParticipantPayload{
		ConnectionID: string(id),
		RoomID:       string(out.To.ID),
		FromRoomID:   string(out.From),
	})
	return domain.Delivered
}

func (o *Orchestrator) roomStatus(b *batch, from domain.ConnID) domain.Result {
	conn, ok := o.Registry.Directory().Get(from)
	if !ok {
		return domain.Dropped(domain.ReasonUnknownConnection)
	}
	b.to(from, o.RoomStatus(conn.MeetingID))
	return domain.Delivered
}

// RoomStatus reports live rooms holding connections of meeting, or every
// live room when meeting is empty.
func (o *Orchestrator) RoomStatus(meeting domain.RoomID) protocol.RoomStatus {
	status := protocol.RoomStatus{Rooms: make(map[domain.RoomID]protocol.RoomStatusEntry)}
	var scope map[domain.RoomID]bool
	if meeting != "" {
		scope = make(map[domain.RoomID]bool)
		for _, c := range o.Registry.Directory().InMeeting(meeting) {
			scope[c.CurrentRoom] = true
		}
	}
	for _, room := range o.Registry.Rooms() {
		if scope != nil && !scope[room.ID] {
			continue
		}
		status.Rooms[room.ID] = protocol.RoomStatusEntry{
			Users:     room.Len(),
			CreatedAt: room.CreatedAt.UnixMilli(),
		}
	}
	return status
}

func (o *Orchestrator) hostList(b *batch, m *core.Meeting) {
	cohosts := m.Cohosts()
	if cohosts == nil {
		cohosts = []domain.ConnID{}
	}
	b.meeting(m.ID, protocol.HostList{MeetingID: m.ID, HostID: m.HostID, CoHosts: cohosts})
}

func (o *Orchestrator) peers(ids []domain.ConnID) []protocol.Peer {
	out := make([]protocol.Peer, 0, len(ids))
	for _, id := range ids {
		if c, ok := o.Registry.Directory().Get(id); ok {
			out = append(out, peerOf(c))
		}
	}
	return out
}

func peerOf(c domain.Connection) protocol.Peer {
	return protocol.Peer{ConnectionID: c.ID, UserName: c.DisplayName, UserID: c.UserID}
}

// hostStatus reports isHost for co-hosts too, since clients gate host
// controls on it. Authority tells the two apart.
func hostStatus(a domain.Authority) protocol.HostStatus {
	return protocol.HostStatus{IsHost: a.Privileged(), Authority: a}
}

func normalizeRoomID(id domain.RoomID) (domain.RoomID, bool) {
	s := strings.TrimSpace(string(id))
	if s == "" || len(s) > maxRoomIDLen {
		return "", false
	}
	return domain.RoomID(s), true
}
