package statemanager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notewave/collabd/pkg/state"
)

// InMemoryManager keeps all connection, user and room state in process
// memory. The conns and users maps have their own mutexes; each room guards
// its membership with its own lock so traffic in unrelated rooms never
// serializes. Lock order is always connMu -> userMu -> roomsMu -> room lock.
type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	users map[string]*state.User
	rooms map[string]*room

	connMu  sync.RWMutex
	userMu  sync.RWMutex
	roomsMu sync.RWMutex

	logger *slog.Logger
}

// room mirrors state.Room but keeps the lock and membership map private to
// this package; only copied-out snapshots leave the manager.
type room struct {
	id      string
	mu      sync.Mutex
	members map[string]*member
}

type member struct {
	conns map[uuid.UUID]state.Sender
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]*state.User),
		rooms:  make(map[string]*room),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(transport state.Sender, ipAddr string) (*state.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	connID := transport.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, state.ErrConnRegistered
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: transport,
		CreatedAt: time.Now(),
		Rooms:     make(map[string]struct{}),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) (state.DisconnectResult, error) {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		m.connMu.Unlock()
		return state.DisconnectResult{}, nil
	}
	delete(m.conns, connID)
	roomIDs := make([]string, 0, len(conn.Rooms))
	for id := range conn.Rooms {
		roomIDs = append(roomIDs, id)
	}
	conn.Rooms = make(map[string]struct{})
	m.connMu.Unlock()

	result := state.DisconnectResult{}

	// detach conn from user
	if conn.User != nil {
		m.userMu.Lock()
		user := conn.User
		result.UserID = user.ID
		delete(user.Connections, connID)
		m.userMu.Unlock()
		m.logger.Debug("Detached connection from user", slog.String("connID", connID.String()), slog.String("userID", user.ID))
	}

	// remove from every room the connection had joined
	for _, roomID := range roomIDs {
		res := m.leaveRoom(connID, result.UserID, roomID)
		if res.WasMember {
			result.Rooms = append(result.Rooms, state.RoomDeparture{
				RoomID:      roomID,
				LastForUser: res.LastForUser,
				RoomEmptied: res.RoomEmptied,
			})
		}
	}

	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return result, nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, false
	}

	var oldestConn *state.Connection
	var oldestTime time.Time

	for _, conn := range user.Connections {
		if oldestConn == nil || conn.CreatedAt.Before(oldestTime) {
			oldestConn = conn
			oldestTime = conn.CreatedAt
		}
	}

	if oldestConn == nil {
		return nil, false // User has no connections.
	}

	return oldestConn, true
}

// --- User Management ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, userID, name, color string) (*state.User, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.userMu.Lock()
	defer m.userMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, state.ErrConnNotFound
	}

	// Find or create the user session.
	user, exists := m.users[userID]
	if !exists {
		user = &state.User{
			ID:          userID,
			Connections: make(map[uuid.UUID]*state.Connection),
		}
		m.users[userID] = user
		m.logger.Debug("Created new user session", slog.String("userID", userID))
	}

	user.Name = name
	user.Color = color
	conn.User = user
	user.Connections[connID] = conn

	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.String("userID", userID))
	return user, nil
}

func (m *InMemoryManager) FindUser(userID string) (*state.User, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	user, ok := m.users[userID]
	return user, ok
}

func (m *InMemoryManager) GetUserConnections(userID string) ([]state.Sender, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, state.ErrUserNotFound
	}

	conns := make([]state.Sender, 0, len(user.Connections))
	for _, c := range user.Connections {
		conns = append(conns, c.Transport)
	}
	return conns, nil
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) (int, error) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, nil // User doesn't exist yet, so they have 0 connections.
	}
	return len(user.Connections), nil
}

func (m *InMemoryManager) AllSenders() []state.Sender {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	senders := make([]state.Sender, 0, len(m.conns))
	for _, conn := range m.conns {
		senders = append(senders, conn.Transport)
	}
	return senders
}

// --- Room & Membership Management ---

func (m *InMemoryManager) Join(connID uuid.UUID, roomID string) (state.JoinResult, error) {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		m.connMu.Unlock()
		return state.JoinResult{}, state.ErrConnNotFound
	}
	if conn.User == nil {
		m.connMu.Unlock()
		return state.JoinResult{}, state.ErrUserNotFound
	}
	user := conn.User
	transport := conn.Transport
	conn.Rooms[roomID] = struct{}{}
	m.connMu.Unlock()

	// Find or create the room, then mutate membership under the room lock.
	m.roomsMu.Lock()
	r, exists := m.rooms[roomID]
	if !exists {
		r = &room{id: roomID, members: make(map[string]*member)}
		m.rooms[roomID] = r
	}
	r.mu.Lock()
	m.roomsMu.Unlock()

	result := state.JoinResult{}
	mem, isMember := r.members[user.ID]
	if isMember {
		if _, dup := mem.conns[connID]; dup {
			result.AlreadyJoined = true
		} else {
			mem.conns[connID] = transport
		}
	} else {
		r.members[user.ID] = &member{
			conns: map[uuid.UUID]state.Sender{connID: transport},
		}
		result.FirstForUser = true
	}
	r.mu.Unlock()

	m.logger.Debug("Connection joined room",
		slog.String("connID", connID.String()),
		slog.String("userID", user.ID),
		slog.String("roomID", roomID),
	)
	return result, nil
}

func (m *InMemoryManager) Leave(connID uuid.UUID, roomID string) (state.LeaveResult, error) {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	var userID string
	if ok {
		delete(conn.Rooms, roomID)
		if conn.User != nil {
			userID = conn.User.ID
		}
	}
	m.connMu.Unlock()
	if !ok || userID == "" {
		return state.LeaveResult{}, nil
	}

	return m.leaveRoom(connID, userID, roomID), nil
}

func (m *InMemoryManager) leaveRoom(connID uuid.UUID, userID, roomID string) state.LeaveResult {
	m.roomsMu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.roomsMu.Unlock()
		return state.LeaveResult{}
	}
	r.mu.Lock()

	result := state.LeaveResult{}
	if mem, isMember := r.members[userID]; isMember {
		if _, has := mem.conns[connID]; has {
			delete(mem.conns, connID)
			result.WasMember = true
			if len(mem.conns) == 0 {
				delete(r.members, userID)
				result.LastForUser = true
			}
		}
	}

	// For memory hygiene, remove the room if it's now empty.
	if len(r.members) == 0 {
		delete(m.rooms, roomID)
		result.RoomEmptied = true
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}
	r.mu.Unlock()
	m.roomsMu.Unlock()

	if result.WasMember {
		m.logger.Debug("Connection left room",
			slog.String("connID", connID.String()),
			slog.String("userID", userID),
			slog.String("roomID", roomID),
		)
	}
	return result
}

func (m *InMemoryManager) RoomConnections(roomID string) []state.ConnInfo {
	m.roomsMu.RLock()
	r, ok := m.rooms[roomID]
	m.roomsMu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]state.ConnInfo, 0, len(r.members))
	for userID, mem := range r.members {
		for connID, sender := range mem.conns {
			conns = append(conns, state.ConnInfo{ConnID: connID, UserID: userID, Sender: sender})
		}
	}
	return conns
}

func (m *InMemoryManager) RoomExists(roomID string) bool {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()
	_, ok := m.rooms[roomID]
	return ok
}
