package orch

import (
	"strings"
	"unicode/utf8"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/events"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// mediaState records the sender's audio/video flags. The reported room is
// informational only; membership changes go through switch-room.
func (o *Orchestrator) mediaState(b *batch, from domain.ConnID, m protocol.MediaState) domain.Result {
	conn, _ := o.Registry.Directory().Get(from)
	if m.CurrentRoom != "" && m.CurrentRoom != conn.CurrentRoom {
		log.Debug().Str("module", "orch").Str("conn", string(from)).Str("reported", string(m.CurrentRoom)).
			Str("room", string(conn.CurrentRoom)).Msg("media-state room mismatch ignored")
	}
	if !o.Registry.Directory().SetMedia(from, m.AudioOn, m.VideoOn) {
		return domain.Dropped(domain.ReasonNoop)
	}
	b.add(o.Presence.Broadcast(conn.MeetingID)...)
	return domain.Delivered
}

// chat goes to the whole current room, sender included.
func (o *Orchestrator) chat(b *batch, from domain.ConnID, m protocol.ChatMessage) domain.Result {
	conn, _ := o.Registry.Directory().Get(from)
	room, ok := o.Registry.Get(conn.CurrentRoom)
	if !ok {
		return domain.Dropped(domain.ReasonUnknownTarget)
	}
	if !room.Settings.Bool(domain.SettingChatEnabled, true) {
		return domain.Dropped(domain.ReasonUnauthorized)
	}
	text := strings.TrimSpace(m.Message)
	if text == "" || utf8.RuneCountInString(text) > o.Opts.MaxChatLength {
		return domain.Dropped(domain.ReasonInvalidPayload)
	}
	b.room(room.ID, protocol.ChatBroadcast{
		ConnectionID: from,
		UserName:     conn.DisplayName,
		UserID:       conn.UserID,
		Message:      text,
		Timestamp:    o.now().UnixMilli(),
	}, "")
	return domain.Delivered
}

func (o *Orchestrator) screenShare(b *batch, from domain.ConnID, m protocol.ScreenShare) domain.Result {
	conn, _ := o.Registry.Directory().Get(from)
	b.room(conn.CurrentRoom, protocol.ScreenShareNotice{
		Active:       m.Active,
		ConnectionID: from,
		UserName:     conn.DisplayName,
	}, from)
	return domain.Delivered
}

// updateSettings merges a settings patch into the sender's current room.
func (o *Orchestrator) updateSettings(b *batch, from domain.ConnID, m protocol.UpdateSettings) domain.Result {
	conn, _ := o.Registry.Directory().Get(from)
	room, ok := o.Registry.Get(conn.CurrentRoom)
	if !ok {
		return domain.Dropped(domain.ReasonUnknownTarget)
	}
	if len(m.Settings) == 0 {
		return domain.Dropped(domain.ReasonNoop)
	}
	room.Settings.Merge(m.Settings)
	settings := room.Settings.Clone()
	b.room(room.ID, protocol.SettingsUpdated{RoomID: room.ID, Settings: settings, By: conn.DisplayName}, "")

	o.publish(events.TypeRoomSettingsChange, conn.MeetingID, events.SettingsPayload{
		RoomID: string(room.ID), Settings: settings, By: string(from),
	})
	return domain.Delivered
}
