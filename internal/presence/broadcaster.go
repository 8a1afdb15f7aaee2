// Package presence fans out full per-meeting participant snapshots.
package presence

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

type Broadcaster struct {
	dir *core.Directory
}

func NewBroadcaster(dir *core.Directory) *Broadcaster {
	return &Broadcaster{dir: dir}
}

func (b *Broadcaster) Snapshot(meeting domain.RoomID) []domain.Participant {
	conns := b.dir.InMeeting(meeting)
	out := make([]domain.Participant, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Snapshot())
	}
	return out
}

// Broadcast delivers the full snapshot to every connection of the meeting.
// All recipients share one participants slice, which must not be mutated.
func (b *Broadcaster) Broadcast(meeting domain.RoomID) []protocol.Delivery {
	snap := b.Snapshot(meeting)
	if len(snap) == 0 {
		return nil
	}
	msg := protocol.ParticipantsState{MeetingID: meeting, Participants: snap}
	out := make([]protocol.Delivery, 0, len(snap))
	for _, p := range snap {
		out = append(out, protocol.Delivery{To: p.ConnectionID, Msg: msg})
	}
	return out
}
