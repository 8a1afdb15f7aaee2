package core

import (
	"sort"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

type membership struct {
	seq      uint64
	joinedAt time.Time
}

// Room is a live membership container. It only exists while it has members.
type Room struct {
	ID        domain.RoomID
	CreatedAt time.Time
	Settings  domain.RoomSettings

	members map[domain.ConnID]membership
}

func newRoom(id domain.RoomID, now time.Time) *Room {
	return &Room{
		ID:        id,
		CreatedAt: now,
		Settings:  domain.DefaultRoomSettings(),
		members:   make(map[domain.ConnID]membership),
	}
}

func (r *Room) Len() int { return len(r.members) }

func (r *Room) Has(id domain.ConnID) bool {
	_, ok := r.members[id]
	return ok
}

// Members returns member ids in join order.
func (r *Room) Members() []domain.ConnID {
	out := make([]domain.ConnID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.members[out[i]].seq < r.members[out[j]].seq
	})
	return out
}
