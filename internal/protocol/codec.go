package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrInvalidFormat = errors.New("invalid message format")
)

type envelope struct {
	Type MsgType `json:"type"`
}

// Encode writes m as a JSON object with its "type" field first.
func Encode(m Message) ([]byte, error) {
	head, err := json.Marshal(envelope{Type: m.MessageType()})
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), ErrInvalidFormat)
	}
	if len(body) == 2 {
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// Decode parses a client-originated frame into its typed variant and
// validates the required fields.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var msg Inbound
	var err error
	switch env.Type {
	case TypeJoinRoom:
		msg, err = decodeAs[JoinRoom](data)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		var s Signal
		s, err = decodeAs[Signal](data)
		s.Kind = env.Type
		msg = s
	case TypeSwitchRoom:
		msg, err = decodeAs[SwitchRoom](data)
	case TypeMediaState:
		msg, err = decodeAs[MediaState](data)
	case TypeGrantHost:
		msg, err = decodeAs[GrantHost](data)
	case TypeRevokeHost:
		msg, err = decodeAs[RevokeHost](data)
	case TypeMuteAll:
		msg = MuteAll{}
	case TypeDisableAllCameras:
		msg = DisableAllCameras{}
	case TypeBanParticipant:
		msg, err = decodeAs[BanParticipant](data)
	case TypeBreakoutRoomsUpdate:
		msg, err = decodeAs[BreakoutRoomsUpdate](data)
	case TypeCloseBreakouts:
		msg, err = decodeAs[CloseBreakouts](data)
	case TypeUpdateSettings:
		msg, err = decodeAs[UpdateSettings](data)
	case TypeChatMessage:
		msg, err = decodeAs[ChatMessage](data)
	case TypeScreenShareStart:
		msg = ScreenShare{Active: true}
	case TypeScreenShareStop:
		msg = ScreenShare{Active: false}
	case TypeGetRoomStatus:
		msg = GetRoomStatus{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, env.Type, err)
	}
	if err := validate(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, env.Type, err)
	}
	return msg, nil
}

// DecodeOutbound parses a server-originated frame. It is used by clients.
func DecodeOutbound(data []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var msg Outbound
	var err error
	switch env.Type {
	case TypeConnected:
		msg, err = decodeAs[Connected](data)
	case TypeExistingUsers:
		msg, err = decodeAs[ExistingUsers](data)
	case TypeRoomSettings:
		msg, err = decodeAs[RoomSettings](data)
	case TypeUserJoined:
		msg, err = decodeAs[UserJoined](data)
	case TypeUserLeft:
		msg, err = decodeAs[UserLeft](data)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		var s RelayedSignal
		s, err = decodeAs[RelayedSignal](data)
		s.Kind = env.Type
		msg = s
	case TypeParticipantsState:
		msg, err = decodeAs[ParticipantsState](data)
	case TypeHostStatus:
		msg, err = decodeAs[HostStatus](data)
	case TypeHostList:
		msg, err = decodeAs[HostList](data)
	case TypeForceMute:
		msg, err = decodeAs[ForceMute](data)
	case TypeForceDisableCamera:
		msg, err = decodeAs[ForceDisableCamera](data)
	case TypeBanned:
		msg, err = decodeAs[Banned](data)
	case TypeBreakoutRoomsUpdated:
		msg, err = decodeAs[BreakoutRoomsUpdated](data)
	case TypeReturnToMain:
		msg, err = decodeAs[ReturnToMain](data)
	case TypeSettingsUpdated:
		msg, err = decodeAs[SettingsUpdated](data)
	case TypeChatMessage:
		msg, err = decodeAs[ChatBroadcast](data)
	case TypeScreenShareStarted, TypeScreenShareStopped:
		var n ScreenShareNotice
		n, err = decodeAs[ScreenShareNotice](data)
		n.Active = env.Type == TypeScreenShareStarted
		msg = n
	case TypeRoomStatus:
		msg, err = decodeAs[RoomStatus](data)
	case TypeError:
		msg, err = decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, env.Type, err)
	}
	return msg, nil
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

func validate(msg Inbound) error {
	switch m := msg.(type) {
	case JoinRoom:
		if strings.TrimSpace(string(m.RoomID)) == "" {
			return errors.New("missing roomId")
		}
	case Signal:
		if m.To == "" {
			return errors.New("missing to")
		}
		switch m.Kind {
		case TypeOffer, TypeAnswer:
			if len(m.SDP) == 0 || string(m.SDP) == "null" {
				return errors.New("missing sdp")
			}
		case TypeICECandidate:
			if len(m.Candidate) == 0 {
				return errors.New("missing candidate")
			}
		}
	case SwitchRoom:
		if strings.TrimSpace(string(m.TargetRoomID)) == "" {
			return errors.New("missing targetRoomId")
		}
	case GrantHost:
		if m.Target == "" {
			return errors.New("missing targetConnectionId")
		}
	case RevokeHost:
		if m.Target == "" {
			return errors.New("missing targetConnectionId")
		}
	case BanParticipant:
		if m.Target == "" {
			return errors.New("missing targetConnectionId")
		}
	case UpdateSettings:
		if m.Settings == nil {
			return errors.New("missing settings")
		}
	}
	return nil
}
