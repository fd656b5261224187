// Package protocol defines the JSON envelope and payload shapes exchanged
// between the collab server and its clients. Both the server-side router and
// the client sync agent decode from here, so the wire contract lives in one
// place.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server events.
const (
	EventJoinRoom         = "join-room"
	EventLeaveRoom        = "leave-room"
	EventCursorMove       = "cursor-move"
	EventTyping           = "typing"
	EventContentChange    = "content-change"
	EventRevokeAccess     = "revoke-access"
	EventRevokeAccessBulk = "revoke-access-bulk"
	EventPing             = "ping"
)

// Server -> client events.
const (
	EventMembershipSnapshot = "membership-snapshot"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventCursorUpdate       = "cursor-update"
	EventTypingUpdate       = "typing-update"
	EventContentUpdated     = "content-updated"
	EventAccessRevoked      = "access-revoked"
	EventConnectionRestored = "connection-restored"
	EventPong               = "pong"
)

// PersonalRoomPrefix scopes the implicit per-user notification room.
const PersonalRoomPrefix = "user:"

func PersonalRoom(userID string) string {
	return PersonalRoomPrefix + userID
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type UserInfo struct {
	ID    string `json:"userId"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type MembershipSnapshotPayload struct {
	RoomID string     `json:"roomId"`
	Users  []UserInfo `json:"users"`
}

type UserJoinedPayload struct {
	RoomID string   `json:"roomId"`
	User   UserInfo `json:"user"`
}

type UserLeftPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type CursorMovePayload struct {
	RoomID   string   `json:"roomId"`
	Position Position `json:"position"`
}

type CursorUpdatePayload struct {
	RoomID   string   `json:"roomId"`
	UserID   string   `json:"userId"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Color    string   `json:"color"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type TypingUpdatePayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

type ContentChangePayload struct {
	RoomID  string  `json:"roomId"`
	Content string  `json:"content"`
	Title   *string `json:"title,omitempty"`
}

type ContentUpdatedPayload struct {
	RoomID    string  `json:"roomId"`
	Content   string  `json:"content"`
	Title     *string `json:"title,omitempty"`
	UpdatedBy string  `json:"updatedBy"`
	// Rev is a per-room monotonic sequence stamped by the server. Receivers
	// stay last-writer-wins but can detect when concurrent edits collided.
	Rev uint64 `json:"rev"`
}

type RevocationPayload struct {
	TargetUserID string `json:"targetUserId"`
	ResourceID   string `json:"resourceId"`
	ResourceType string `json:"resourceType"`
	RevokedBy    string `json:"revokedBy"`
}

type RevokeBulkPayload struct {
	Revocations []RevocationPayload `json:"revocations"`
}

type AccessRevokedPayload struct {
	// EventID makes delivery idempotent: agents apply each revocation
	// at most once even if the event is duplicated on the wire.
	EventID      string `json:"eventId"`
	ResourceID   string `json:"resourceId"`
	ResourceType string `json:"resourceType"`
	RevokedBy    string `json:"revokedBy"`
}

// Encode marshals a payload into a ready-to-send envelope.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return msg, nil
}
