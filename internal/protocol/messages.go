// Package protocol defines the JSON signaling messages exchanged over the
// websocket. Every message is an object whose "type" field selects one of
// the closed set of variants below.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
)

type MsgType string

// Client to server.
const (
	TypeJoinRoom            MsgType = "join-room"
	TypeSwitchRoom          MsgType = "switch-room"
	TypeMediaState          MsgType = "media-state"
	TypeGrantHost           MsgType = "grant-host"
	TypeRevokeHost          MsgType = "revoke-host"
	TypeMuteAll             MsgType = "mute-all"
	TypeDisableAllCameras   MsgType = "disable-all-cameras"
	TypeBanParticipant      MsgType = "ban-participant"
	TypeBreakoutRoomsUpdate MsgType = "breakout-rooms-update"
	TypeCloseBreakouts      MsgType = "close-breakouts"
	TypeUpdateSettings      MsgType = "update-settings"
	TypeScreenShareStart    MsgType = "screen-share-start"
	TypeScreenShareStop     MsgType = "screen-share-stop"
	TypeGetRoomStatus       MsgType = "get-room-status"
)

// Relayed in both directions.
const (
	TypeOffer        MsgType = "offer"
	TypeAnswer       MsgType = "answer"
	TypeICECandidate MsgType = "ice-candidate"
	TypeChatMessage  MsgType = "chat-message"
)

// Server to client.
const (
	TypeConnected            MsgType = "connected"
	TypeExistingUsers        MsgType = "existing-users"
	TypeRoomSettings         MsgType = "room-settings"
	TypeUserJoined           MsgType = "user-joined"
	TypeUserLeft             MsgType = "user-left"
	TypeParticipantsState    MsgType = "participants-state"
	TypeHostStatus           MsgType = "host-status"
	TypeHostList             MsgType = "host-list"
	TypeForceMute            MsgType = "force-mute"
	TypeForceDisableCamera   MsgType = "force-disable-camera"
	TypeBanned               MsgType = "banned"
	TypeBreakoutRoomsUpdated MsgType = "breakout-rooms-updated"
	TypeReturnToMain         MsgType = "return-to-main"
	TypeSettingsUpdated      MsgType = "settings-updated"
	TypeScreenShareStarted   MsgType = "screen-share-started"
	TypeScreenShareStopped   MsgType = "screen-share-stopped"
	TypeRoomStatus           MsgType = "room-status"
	TypeError                MsgType = "error"
)

const ReasonBanned = "banned"

// Message is anything that can be put on the wire.
type Message interface {
	MessageType() MsgType
}

// Inbound is a client-originated message.
type Inbound interface {
	Message
	inbound()
}

// Outbound is a server-originated message.
type Outbound interface {
	Message
	outbound()
}

// ---- inbound ----

type JoinRoom struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserName string        `json:"userName"`
	UserID   domain.UserID `json:"userId,omitempty"`
}

// Signal is an offer, answer or ice-candidate envelope addressed to To.
// SDP and Candidate are carried opaquely.
type Signal struct {
	Kind      MsgType         `json:"-"`
	To        domain.ConnID   `json:"to"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type SwitchRoom struct {
	TargetRoomID domain.RoomID `json:"targetRoomId"`
}

type MediaState struct {
	AudioOn     *bool         `json:"audioOn,omitempty"`
	VideoOn     *bool         `json:"videoOn,omitempty"`
	CurrentRoom domain.RoomID `json:"currentRoom,omitempty"`
}

type GrantHost struct {
	Target domain.ConnID `json:"targetConnectionId"`
}

type RevokeHost struct {
	Target domain.ConnID `json:"targetConnectionId"`
}

type MuteAll struct{}

type DisableAllCameras struct{}

type BanParticipant struct {
	Target domain.ConnID `json:"targetConnectionId"`
}

// BreakoutRoomsUpdate declares the meeting's breakouts. With no rooms and
// a positive Count the server lays out "Room 1".."Room n" itself.
type BreakoutRoomsUpdate struct {
	MeetingID domain.RoomID         `json:"meetingId,omitempty"`
	Rooms     []domain.BreakoutRoom `json:"rooms"`
	Count     int                   `json:"count,omitempty"`
}

type CloseBreakouts struct {
	MeetingID domain.RoomID `json:"meetingId,omitempty"`
}

type UpdateSettings struct {
	Settings map[string]any `json:"settings"`
}

type ChatMessage struct {
	Message string `json:"message"`
}

type ScreenShare struct {
	Active bool `json:"-"`
}

type GetRoomStatus struct{}

func (JoinRoom) MessageType() MsgType            { return TypeJoinRoom }
func (s Signal) MessageType() MsgType            { return s.Kind }
func (SwitchRoom) MessageType() MsgType          { return TypeSwitchRoom }
func (MediaState) MessageType() MsgType          { return TypeMediaState }
func (GrantHost) MessageType() MsgType           { return TypeGrantHost }
func (RevokeHost) MessageType() MsgType          { return TypeRevokeHost }
func (MuteAll) MessageType() MsgType             { return TypeMuteAll }
func (DisableAllCameras) MessageType() MsgType   { return TypeDisableAllCameras }
func (BanParticipant) MessageType() MsgType      { return TypeBanParticipant }
func (BreakoutRoomsUpdate) MessageType() MsgType { return TypeBreakoutRoomsUpdate }
func (CloseBreakouts) MessageType() MsgType      { return TypeCloseBreakouts }
func (UpdateSettings) MessageType() MsgType      { return TypeUpdateSettings }
func (ChatMessage) MessageType() MsgType         { return TypeChatMessage }
func (GetRoomStatus) MessageType() MsgType       { return TypeGetRoomStatus }

func (s ScreenShare) MessageType() MsgType {
	if s.Active {
		return TypeScreenShareStart
	}
	return TypeScreenShareStop
}

func (JoinRoom) inbound()            {}
func (Signal) inbound()              {}
func (SwitchRoom) inbound()          {}
func (MediaState) inbound()          {}
func (GrantHost) inbound()           {}
func (RevokeHost) inbound()          {}
func (MuteAll) inbound()             {}
func (DisableAllCameras) inbound()   {}
func (BanParticipant) inbound()      {}
func (BreakoutRoomsUpdate) inbound() {}
func (CloseBreakouts) inbound()      {}
func (UpdateSettings) inbound()      {}
func (ChatMessage) inbound()         {}
func (ScreenShare) inbound()         {}
func (GetRoomStatus) inbound()       {}

// ---- outbound ----

// Peer is a roster entry.
type Peer struct {
	ConnectionID domain.ConnID `json:"connectionId"`
	UserName     string        `json:"userName"`
	UserID       domain.UserID `json:"userId,omitempty"`
}

type Connected struct {
	ConnectionID domain.ConnID `json:"connectionId"`
}

type ExistingUsers struct {
	RoomID domain.RoomID `json:"roomId"`
	Users  []Peer        `json:"users"`
}

type RoomSettings struct {
	RoomID   domain.RoomID       `json:"roomId"`
	Settings domain.RoomSettings `json:"settings"`
}

type UserJoined struct {
	Peer
}

type UserLeft struct {
	ConnectionID domain.ConnID `json:"connectionId"`
	UserName     string        `json:"userName"`
	Reason       string        `json:"reason,omitempty"`
}

// RelayedSignal is a Signal as delivered to its target.
type RelayedSignal struct {
	Kind      MsgType         `json:"-"`
	From      domain.ConnID   `json:"from"`
	UserName  string          `json:"userName,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type ParticipantsState struct {
	MeetingID    domain.RoomID        `json:"meetingId"`
	Participants []domain.Participant `json:"participants"`
}

type HostStatus struct {
	IsHost    bool             `json:"isHost"`
	Authority domain.Authority `json:"authority"`
}

type HostList struct {
	MeetingID domain.RoomID   `json:"meetingId"`
	HostID    domain.ConnID   `json:"hostId,omitempty"`
	CoHosts   []domain.ConnID `json:"coHosts"`
}

type ForceMute struct {
	By domain.ConnID `json:"by"`
}

type ForceDisableCamera struct {
	By domain.ConnID `json:"by"`
}

type Banned struct {
	Message string `json:"message"`
}

type BreakoutRoomsUpdated struct {
	MeetingID domain.RoomID         `json:"meetingId"`
	Rooms     []domain.BreakoutRoom `json:"rooms"`
}

type ReturnToMain struct {
	MeetingID domain.RoomID `json:"meetingId"`
}

type SettingsUpdated struct {
	RoomID   domain.RoomID       `json:"roomId"`
	Settings domain.RoomSettings `json:"settings"`
	By       string              `json:"by"`
}

type ChatBroadcast struct {
	ConnectionID domain.ConnID `json:"connectionId"`
	UserName     string        `json:"userName"`
	UserID       domain.UserID `json:"userId"`
	Message      string        `json:"message"`
	Timestamp    int64         `json:"timestamp"`
}

type ScreenShareNotice struct {
	Active       bool          `json:"-"`
	ConnectionID domain.ConnID `json:"connectionId"`
	UserName     string        `json:"userName"`
}

type RoomStatusEntry struct {
	Users     int   `json:"users"`
	CreatedAt int64 `json:"createdAt"`
}

type RoomStatus struct {
	Rooms map[domain.RoomID]RoomStatusEntry `json:"rooms"`
}

type Error struct {
	Code    domain.DropReason `json:"code"`
	Message string            `json:"message,omitempty"`
}

func (Connected) MessageType() MsgType            { return TypeConnected }
func (ExistingUsers) MessageType() MsgType        { return TypeExistingUsers }
func (RoomSettings) MessageType() MsgType         { return TypeRoomSettings }
func (UserJoined) MessageType() MsgType           { return TypeUserJoined }
func (UserLeft) MessageType() MsgType             { return TypeUserLeft }
func (s RelayedSignal) MessageType() MsgType      { return s.Kind }
func (ParticipantsState) MessageType() MsgType    { return TypeParticipantsState }
func (HostStatus) MessageType() MsgType           { return TypeHostStatus }
func (HostList) MessageType() MsgType             { return TypeHostList }
func (ForceMute) MessageType() MsgType            { return TypeForceMute }
func (ForceDisableCamera) MessageType() MsgType   { return TypeForceDisableCamera }
func (Banned) MessageType() MsgType               { return TypeBanned }
func (BreakoutRoomsUpdated) MessageType() MsgType { return TypeBreakoutRoomsUpdated }
func (ReturnToMain) MessageType() MsgType         { return TypeReturnToMain }
func (SettingsUpdated) MessageType() MsgType      { return TypeSettingsUpdated }
func (ChatBroadcast) MessageType() MsgType        { return TypeChatMessage }
func (RoomStatus) MessageType() MsgType           { return TypeRoomStatus }
func (Error) MessageType() MsgType                { return TypeError }

func (n ScreenShareNotice) MessageType() MsgType {
	if n.Active {
		return TypeScreenShareStarted
	}
	return TypeScreenShareStopped
}

func (Connected) outbound()            {}
func (ExistingUsers) outbound()        {}
func (RoomSettings) outbound()         {}
func (UserJoined) outbound()           {}
func (UserLeft) outbound()             {}
func (RelayedSignal) outbound()        {}
func (ParticipantsState) outbound()    {}
func (HostStatus) outbound()           {}
func (HostList) outbound()             {}
func (ForceMute) outbound()            {}
func (ForceDisableCamera) outbound()   {}
func (Banned) outbound()               {}
func (BreakoutRoomsUpdated) outbound() {}
func (ReturnToMain) outbound()         {}
func (SettingsUpdated) outbound()      {}
func (ChatBroadcast) outbound()        {}
func (ScreenShareNotice) outbound()    {}
func (RoomStatus) outbound()           {}
func (Error) outbound()                {}

// Delivery is one outbound message for one connection. Terminate asks the
// transport to close once the message has been flushed.
type Delivery struct {
	To        domain.ConnID
	Msg       Outbound
	Terminate bool
}
