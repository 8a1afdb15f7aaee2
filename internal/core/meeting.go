package core

import (
	"slices"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

// Meeting holds the meeting-scoped authority state. It lives as long as
// any connection with this meeting id exists, independently of whether the
// root room currently has members.
type Meeting struct {
	ID        domain.RoomID
	StartedAt time.Time
	HostID    domain.ConnID
	Breakouts []domain.BreakoutRoom

	cohosts []domain.ConnID
	bans    map[domain.UserID]struct{}
	size    int
}

func newMeeting(id domain.RoomID, host domain.ConnID, now time.Time) *Meeting {
	return &Meeting{
		ID:        id,
		StartedAt: now,
		HostID:    host,
		bans:      make(map[domain.UserID]struct{}),
	}
}

// Size is the number of connections in the meeting across all rooms.
func (m *Meeting) Size() int { return m.size }

// Cohosts returns co-host ids in grant order.
func (m *Meeting) Cohosts() []domain.ConnID {
	return slices.Clone(m.cohosts)
}

func (m *Meeting) IsCohost(id domain.ConnID) bool {
	return slices.Contains(m.cohosts, id)
}

func (m *Meeting) AuthorityOf(id domain.ConnID) domain.Authority {
	switch {
	case id != "" && id == m.HostID:
		return domain.AuthorityHost
	case m.IsCohost(id):
		return domain.AuthorityCohost
	default:
		return domain.AuthorityNone
	}
}

func (m *Meeting) AddCohost(id domain.ConnID) bool {
	if id == m.HostID || m.IsCohost(id) {
		return false
	}
	m.cohosts = append(m.cohosts, id)
	return true
}

func (m *Meeting) RemoveCohost(id domain.ConnID) bool {
	i := slices.Index(m.cohosts, id)
	if i < 0 {
		return false
	}
	m.cohosts = slices.Delete(m.cohosts, i, i+1)
	return true
}

func (m *Meeting) Ban(uid domain.UserID) {
	if uid != "" {
		m.bans[uid] = struct{}{}
	}
}

func (m *Meeting) IsBanned(uid domain.UserID) bool {
	_, ok := m.bans[uid]
	return ok
}

// Promote hands the host slot to id, dropping it from the co-host list.
func (m *Meeting) Promote(id domain.ConnID) {
	m.RemoveCohost(id)
	m.HostID = id
}
