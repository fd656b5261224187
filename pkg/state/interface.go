package state

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrConnRegistered = errors.New("connection is already registered")
	ErrConnNotFound   = errors.New("connection not found")
	ErrUserNotFound   = errors.New("user not found")
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(transport Sender, ipAddr string) (*Connection, error)
	// DeregisterConnection removes the connection from every room it had
	// joined and detaches it from its user. Idempotent: deregistering an
	// unknown connection returns an empty result and no error.
	DeregisterConnection(connID uuid.UUID) (DisconnectResult, error)
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)

	// --- User Management ---
	// links a connection to a user, creating the user if they don't exist.
	AssociateUser(connID uuid.UUID, userID, name, color string) (*User, error)
	FindUser(userID string) (*User, bool)
	GetUserConnections(userID string) ([]Sender, error)
	GetUserConnectionCount(userID string) (int, error)
	// AllSenders snapshots every registered transport, for shutdown drain.
	// The copy is taken under the connection lock so callers can close the
	// transports without racing register/deregister.
	AllSenders() []Sender

	// --- Room & Membership Management ---
	// Join adds the connection to the room, creating the room if needed.
	// Joining twice with the same connection is a reported no-op.
	Join(connID uuid.UUID, roomID string) (JoinResult, error)
	// Leave removes the connection from the room. Unknown rooms or
	// non-members are no-ops.
	Leave(connID uuid.UUID, roomID string) (LeaveResult, error)
	// RoomConnections snapshots the live transports of every member
	// connection, for fan-out. Unknown rooms yield an empty slice.
	RoomConnections(roomID string) []ConnInfo
	RoomExists(roomID string) bool
}
