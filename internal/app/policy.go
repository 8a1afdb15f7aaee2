package app

import (
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what to do when a connection's send queue is full.
type Policy interface {
	OnBackPressure(id domain.ConnID, t protocol.MsgType) BackpressureAction
}

// SimplePolicy drops frames that a later message supersedes and kicks the
// connection for everything else, since a lost negotiation envelope stalls
// the pair for good.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ domain.ConnID, t protocol.MsgType) BackpressureAction {
	switch t {
	case protocol.TypeParticipantsState, protocol.TypeHostList, protocol.TypeChatMessage,
		protocol.TypeScreenShareStarted, protocol.TypeScreenShareStopped, protocol.TypeRoomStatus:
		return DropFrame
	default:
		return KickMember
	}
}
