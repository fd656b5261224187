package state

import (
	"time"

	"github.com/google/uuid"
)

// Sender is the transport-facing surface the state layer needs: enough to
// fan out payloads and force-close a connection. *transport.Connection
// satisfies it; tests substitute fakes.
type Sender interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Sender
	User      *User // Pointer to the owning user (nil until associated)
	CreatedAt time.Time
	Rooms     map[string]struct{} // room ids this connection has joined
}

// canonical representation of a user, aggregating all their connections.
type User struct {
	ID          string
	Name        string
	Color       string
	Connections map[uuid.UUID]*Connection // All active connections for this user
}

// ConnInfo pairs a live transport with its owning user, snapshot for fan-out.
type ConnInfo struct {
	ConnID uuid.UUID
	UserID string
	Sender Sender
}

// JoinResult reports what a Join call changed. Room membership is keyed by
// user id: a user with several tabs open is one member until their last
// connection leaves.
type JoinResult struct {
	// AlreadyJoined is true when this exact connection was in the room
	// before the call (the call was a no-op).
	AlreadyJoined bool
	// FirstForUser is true when this was the user's first connection in
	// the room, i.e. the join that makes the user visible to peers.
	FirstForUser bool
}

// LeaveResult reports what a Leave call changed.
type LeaveResult struct {
	WasMember   bool
	LastForUser bool // the user's final connection left the room
	RoomEmptied bool // the room lost its last member and was deleted
}

// RoomDeparture describes one room a disconnecting connection was removed from.
type RoomDeparture struct {
	RoomID      string
	LastForUser bool
	RoomEmptied bool
}

// DisconnectResult is returned by DeregisterConnection so the caller can
// emit per-room user-left events and purge ephemeral state.
type DisconnectResult struct {
	UserID string
	Rooms  []RoomDeparture
}
