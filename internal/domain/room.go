package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	SettingJoinMuted       = "joinMuted"
	SettingChatEnabled     = "chatEnabled"
	SettingBreakoutVisible = "breakoutVisible"
)

// RoomSettings is the per-room settings map. Unknown keys are kept and
// handed back to clients untouched.
type RoomSettings map[string]any

func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		SettingJoinMuted:       false,
		SettingChatEnabled:     true,
		SettingBreakoutVisible: true,
	}
}

// Merge overlays patch onto s; nil values delete the key.
func (s RoomSettings) Merge(patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(s, k)
			continue
		}
		s[k] = v
	}
}

func (s RoomSettings) Bool(key string, def bool) bool {
	v, ok := s[key].(bool)
	if !ok {
		return def
	}
	return v
}

func (s RoomSettings) Clone() RoomSettings {
	out := make(RoomSettings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

const (
	breakoutSep      = "::breakout::"
	MaxBreakoutRooms = 50
)

// BreakoutRoom is a declared sub-room of a meeting. Membership is not
// tracked here.
type BreakoutRoom struct {
	ID              RoomID `json:"id"`
	DisplayName     string `json:"name"`
	ParentMeetingID RoomID `json:"-"`
}

func BreakoutRoomID(meeting RoomID, n int) RoomID {
	return RoomID(fmt.Sprintf("%s%s%d", meeting, breakoutSep, n))
}

// ParseBreakoutRoomID splits "<meeting>::breakout::<n>".
func ParseBreakoutRoomID(id RoomID) (RoomID, int, bool) {
	meeting, num, ok := strings.Cut(string(id), breakoutSep)
	if !ok || meeting == "" {
		return "", 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return "", 0, false
	}
	return RoomID(meeting), n, true
}

// ClampBreakoutCount bounds a requested breakout count to 1..max.
func ClampBreakoutCount(n, max int) int {
	if max <= 0 || max > MaxBreakoutRooms {
		max = MaxBreakoutRooms
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// NewBreakoutRooms lays out n breakouts named "Room 1".."Room n".
func NewBreakoutRooms(meeting RoomID, n int) []BreakoutRoom {
	n = ClampBreakoutCount(n, MaxBreakoutRooms)
	out := make([]BreakoutRoom, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, BreakoutRoom{
			ID:              BreakoutRoomID(meeting, i),
			DisplayName:     fmt.Sprintf("Room %d", i),
			ParentMeetingID: meeting,
		})
	}
	return out
}
