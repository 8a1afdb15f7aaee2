package domain

import "time"

// Connection is the directory record of one participant transport.
// Only core.Directory mutates it; everyone else gets copies.
type Connection struct {
	ID          ConnID
	UserID      UserID
	DisplayName string
	MeetingID   RoomID
	CurrentRoom RoomID
	Authority   Authority
	AudioOn     bool
	VideoOn     bool
	JoinedAt    time.Time
}

// Participant is the presence snapshot of a connection.
type Participant struct {
	ConnectionID ConnID    `json:"connectionId"`
	DisplayName  string    `json:"userName"`
	UserID       UserID    `json:"userId"`
	AudioOn      bool      `json:"audioOn"`
	VideoOn      bool      `json:"videoOn"`
	CurrentRoom  RoomID    `json:"currentRoom"`
	MeetingID    RoomID    `json:"meetingId"`
	Authority    Authority `json:"authority"`
	IsHost       bool      `json:"isHost"`
}

func (c Connection) Snapshot() Participant {
	return Participant{
		ConnectionID: c.ID,
		DisplayName:  c.DisplayName,
		UserID:       c.UserID,
		AudioOn:      c.AudioOn,
		VideoOn:      c.VideoOn,
		CurrentRoom:  c.CurrentRoom,
		MeetingID:    c.MeetingID,
		Authority:    c.Authority,
		IsHost:       c.Authority == AuthorityHost,
	}
}
