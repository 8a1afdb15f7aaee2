// Package events publishes meeting lifecycle events to an external bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeMeetingStarted     = "meeting.started"
	TypeMeetingEnded       = "meeting.ended"
	TypeParticipantJoined  = "participant.joined"
	TypeParticipantLeft    = "participant.left"
	TypeParticipantMoved   = "participant.moved"
	TypeParticipantBanned  = "participant.banned"
	TypeAuthorityChanged   = "authority.changed"
	TypeBreakoutsUpdated   = "breakouts.updated"
	TypeRoomSettingsChange = "room.settings_changed"
)

// ChannelMeeting is the per-meeting channel name; the kafka publisher uses
// the meeting id as the message key instead.
const ChannelMeeting = "%s:meeting:%s"

func MeetingChannel(prefix, meetingID string) string {
	return fmt.Sprintf(ChannelMeeting, prefix, meetingID)
}

// Event is one published record.
type Event struct {
	Type      string          `json:"type"`
	MeetingID string          `json:"meeting_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType, meetingID string, payload any) (*Event, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Event{
		Type:      eventType,
		MeetingID: meetingID,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload unmarshals the event payload into v.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }

// Payloads.

type ParticipantPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id,omitempty"`
	UserName     string `json:"user_name,omitempty"`
	RoomID       string `json:"room_id,omitempty"`
	FromRoomID   string `json:"from_room_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	By           string `json:"by,omitempty"`
}

type AuthorityPayload struct {
	ConnectionID string `json:"connection_id"`
	Authority    string `json:"authority"`
	By           string `json:"by,omitempty"`
}

type BreakoutsPayload struct {
	RoomIDs []string `json:"room_ids"`
	By      string   `json:"by"`
}

type SettingsPayload struct {
	RoomID   string         `json:"room_id"`
	Settings map[string]any `json:"settings"`
	By       string         `json:"by"`
}
