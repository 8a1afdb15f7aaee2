package core

import (
	"sort"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Directory is the meeting-scoped participant directory. Records survive
// room migrations; lookups hand out copies.
type Directory struct {
	conns map[domain.ConnID]*domain.Connection
}

func NewDirectory() *Directory {
	return &Directory{conns: make(map[domain.ConnID]*domain.Connection)}
}

func (d *Directory) Len() int { return len(d.conns) }

func (d *Directory) Get(id domain.ConnID) (domain.Connection, bool) {
	c, ok := d.conns[id]
	if !ok {
		return domain.Connection{}, false
	}
	return *c, true
}

func (d *Directory) Has(id domain.ConnID) bool {
	_, ok := d.conns[id]
	return ok
}

func (d *Directory) add(c domain.Connection) {
	d.conns[c.ID] = &c
}

func (d *Directory) remove(id domain.ConnID) (domain.Connection, bool) {
	c, ok := d.conns[id]
	if !ok {
		return domain.Connection{}, false
	}
	delete(d.conns, id)
	return *c, true
}

func (d *Directory) setRoom(id domain.ConnID, room domain.RoomID) {
	if c, ok := d.conns[id]; ok {
		c.CurrentRoom = room
	}
}

// SetMedia updates the media flags; nil leaves a flag unchanged. It
// reports whether anything changed.
func (d *Directory) SetMedia(id domain.ConnID, audio, video *bool) bool {
	c, ok := d.conns[id]
	if !ok {
		return false
	}
	changed := false
	if audio != nil && *audio != c.AudioOn {
		c.AudioOn = *audio
		changed = true
	}
	if video != nil && *video != c.VideoOn {
		c.VideoOn = *video
		changed = true
	}
	if changed {
		log.Debug().Str("module", "core.directory").Str("conn", string(id)).
			Bool("audio", c.AudioOn).Bool("video", c.VideoOn).Msg("media state")
	}
	return changed
}

func (d *Directory) SetAuthority(id domain.ConnID, a domain.Authority) bool {
	c, ok := d.conns[id]
	if !ok || c.Authority == a {
		return false
	}
	c.Authority = a
	log.Info().Str("module", "core.directory").Str("conn", string(id)).Str("authority", string(a)).Msg("authority changed")
	return true
}

// InMeeting filters the directory by meeting id, ordered by join time.
func (d *Directory) InMeeting(meeting domain.RoomID) []domain.Connection {
	out := make([]domain.Connection, 0)
	for _, c := range d.conns {
		if c.MeetingID == meeting {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
