package domain

import "github.com/google/uuid"

// ConnID identifies one live signaling connection. Ids are compared
// lexicographically to pick the negotiation initiator.
type ConnID string

// RoomID identifies any room; a meeting id is the RoomID of the root room.
type RoomID string

func NewConnID() ConnID { return ConnID(uuid.NewString()) }

type Authority string

const (
	AuthorityNone   Authority = "none"
	AuthorityCohost Authority = "cohost"
	AuthorityHost   Authority = "host"
)

// Privileged reports whether the level may run host-only operations.
func (a Authority) Privileged() bool {
	return a == AuthorityHost || a == AuthorityCohost
}
