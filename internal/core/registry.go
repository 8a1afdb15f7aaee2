package core

import (
	"errors"
	"sort"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyJoined     = errors.New("connection already joined")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrSameRoom          = errors.New("connection already in room")
	ErrBanned            = errors.New("user banned from meeting")
)

// Registry is the authoritative room registry. It owns rooms, meeting
// records and the participant directory. It is not safe for concurrent use;
// the coordinator loop serializes every call.
type Registry struct {
	rooms    map[domain.RoomID]*Room
	meetings map[domain.RoomID]*Meeting
	dir      *Directory
	seq      uint64
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[domain.RoomID]*Room),
		meetings: make(map[domain.RoomID]*Meeting),
		dir:      NewDirectory(),
		now:      time.Now,
	}
}

func (r *Registry) Directory() *Directory { return r.dir }

func (r *Registry) Get(id domain.RoomID) (*Room, bool) {
	room, ok := r.rooms[id]
	return room, ok
}

func (r *Registry) Meeting(id domain.RoomID) (*Meeting, bool) {
	m, ok := r.meetings[id]
	return m, ok
}

// MeetingOf returns the meeting record of a joined connection.
func (r *Registry) MeetingOf(id domain.ConnID) (*Meeting, bool) {
	c, ok := r.dir.Get(id)
	if !ok {
		return nil, false
	}
	return r.Meeting(c.MeetingID)
}

// Rooms lists live rooms ordered by id.
func (r *Registry) Rooms() []*Room {
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomMates returns the other members of id's current room in join order.
func (r *Registry) RoomMates(id domain.ConnID) []domain.ConnID {
	c, ok := r.dir.Get(id)
	if !ok {
		return nil
	}
	room, ok := r.rooms[c.CurrentRoom]
	if !ok {
		return nil
	}
	return without(room.Members(), id)
}

type JoinParams struct {
	ID          domain.ConnID
	UserID      domain.UserID
	DisplayName string
	RoomID      domain.RoomID
	// MeetingID defaults to RoomID.
	MeetingID domain.RoomID
}

type JoinOutcome struct {
	Conn           domain.Connection
	Room           *Room
	Meeting        *Meeting
	Peers          []domain.ConnID
	RoomCreated    bool
	MeetingCreated bool
}

// Join registers a connection in a room. The first connection of a meeting
// becomes its host.
func (r *Registry) Join(p JoinParams) (JoinOutcome, error) {
	if r.dir.Has(p.ID) {
		return JoinOutcome{}, ErrAlreadyJoined
	}
	if p.MeetingID == "" {
		p.MeetingID = p.RoomID
	}
	m, ok := r.meetings[p.MeetingID]
	if ok && m.IsBanned(p.UserID) {
		return JoinOutcome{}, ErrBanned
	}

	now := r.now()
	out := JoinOutcome{}
	if !ok {
		m = newMeeting(p.MeetingID, p.ID, now)
		r.meetings[p.MeetingID] = m
		out.MeetingCreated = true
		log.Info().Str("module", "core.registry").Str("meeting", string(p.MeetingID)).Str("host", string(p.ID)).Msg("meeting started")
	}
	room, created := r.getOrCreate(p.RoomID, now)
	out.Peers = room.Members()
	r.addMember(room, p.ID, now)
	m.size++

	conn := domain.Connection{
		ID:          p.ID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		MeetingID:   p.MeetingID,
		CurrentRoom: room.ID,
		Authority:   m.AuthorityOf(p.ID),
		AudioOn:     !room.Settings.Bool(domain.SettingJoinMuted, false),
		VideoOn:     true,
		JoinedAt:    now,
	}
	r.dir.add(conn)

	out.Conn = conn
	out.Room = room
	out.Meeting = m
	out.RoomCreated = created
	log.Info().Str("module", "core.registry").Str("conn", string(p.ID)).Str("room", string(room.ID)).
		Int("members", room.Len()).Msg("joined")
	return out, nil
}

type LeaveOutcome struct {
	Conn         domain.Connection
	Remaining    []domain.ConnID
	RoomDeleted  bool
	Meeting      *Meeting
	MeetingEnded bool
	WasHost      bool
	WasCohost    bool
}

// Leave removes a connection from its room, the directory and its meeting.
// A departing host leaves the slot empty; nobody is re-elected here.
func (r *Registry) Leave(id domain.ConnID) (LeaveOutcome, bool) {
	conn, ok := r.dir.remove(id)
	if !ok {
		return LeaveOutcome{}, false
	}
	out := LeaveOutcome{Conn: conn}
	out.Remaining, out.RoomDeleted = r.removeMember(conn.CurrentRoom, id)

	if m, ok := r.meetings[conn.MeetingID]; ok {
		out.Meeting = m
		m.size--
		if m.HostID == id {
			m.HostID = ""
			out.WasHost = true
		}
		out.WasCohost = m.RemoveCohost(id)
		if m.size <= 0 {
			delete(r.meetings, m.ID)
			out.MeetingEnded = true
			log.Info().Str("module", "core.registry").Str("meeting", string(m.ID)).Msg("meeting ended")
		}
	}
	log.Info().Str("module", "core.registry").Str("conn", string(id)).Str("room", string(conn.CurrentRoom)).
		Bool("room_deleted", out.RoomDeleted).Msg("left")
	return out, true
}

type MoveOutcome struct {
	Conn          domain.Connection
	From          domain.RoomID
	FromRemaining []domain.ConnID
	FromDeleted   bool
	To            *Room
	ToPeers       []domain.ConnID
	ToCreated     bool
}

// Move migrates a connection between rooms. The meeting id is untouched.
func (r *Registry) Move(id domain.ConnID, target domain.RoomID) (MoveOutcome, error) {
	conn, ok := r.dir.Get(id)
	if !ok {
		return MoveOutcome{}, ErrUnknownConnection
	}
	if conn.CurrentRoom == target {
		return MoveOutcome{}, ErrSameRoom
	}
	out := MoveOutcome{From: conn.CurrentRoom}
	out.FromRemaining, out.FromDeleted = r.removeMember(conn.CurrentRoom, id)

	now := r.now()
	room, created := r.getOrCreate(target, now)
	out.ToPeers = room.Members()
	r.addMember(room, id, now)
	r.dir.setRoom(id, room.ID)

	out.Conn, _ = r.dir.Get(id)
	out.To = room
	out.ToCreated = created
	log.Info().Str("module", "core.registry").Str("conn", string(id)).Str("from", string(out.From)).
		Str("to", string(target)).Msg("moved")
	return out, nil
}

func (r *Registry) getOrCreate(id domain.RoomID, now time.Time) (*Room, bool) {
	if room, ok := r.rooms[id]; ok {
		return room, false
	}
	room := newRoom(id, now)
	r.rooms[id] = room
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
	return room, true
}

func (r *Registry) addMember(room *Room, id domain.ConnID, now time.Time) {
	r.seq++
	room.members[id] = membership{seq: r.seq, joinedAt: now}
}

// removeMember drops id from a room and deletes the room once it is empty.
func (r *Registry) removeMember(roomID domain.RoomID, id domain.ConnID) ([]domain.ConnID, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	delete(room.members, id)
	if room.Len() == 0 {
		delete(r.rooms, roomID)
		log.Info().Str("module", "core.registry").Str("room", string(roomID)).Msg("room deleted")
		return nil, true
	}
	return room.Members(), false
}

func without(ids []domain.ConnID, id domain.ConnID) []domain.ConnID {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
