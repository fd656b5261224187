package session

import (
	"log/slog"
	"sync"

	"github.com/notewave/collabd/internal/protocol"
)

// PresenceTracker answers "who is here" per room. Entries carry the user's
// display info and are reference counted, so a user with several tabs in the
// same room shows up once and only disappears when their last connection
// leaves.
type PresenceTracker struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*presenceEntry // roomID -> userID -> entry
	logger *slog.Logger
}

type presenceEntry struct {
	info protocol.UserInfo
	refs int
}

func NewPresenceTracker(logger *slog.Logger) *PresenceTracker {
	return &PresenceTracker{
		rooms:  make(map[string]map[string]*presenceEntry),
		logger: logger.With(slog.String("component", "presence")),
	}
}

// Join records one more connection for the user in the room and returns the
// peers already present, excluding the joiner. The snapshot and the refcount
// increment happen in one critical section, so the returned peers can never
// contain the joiner's own entry. visible reports whether the user just
// appeared (count went 0 -> 1), i.e. whether peers should be told.
func (p *PresenceTracker) Join(roomID string, user protocol.UserInfo) (peers []protocol.UserInfo, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[roomID]
	if !ok {
		room = make(map[string]*presenceEntry)
		p.rooms[roomID] = room
	}

	peers = make([]protocol.UserInfo, 0, len(room))
	for id, entry := range room {
		if id == user.ID {
			continue
		}
		peers = append(peers, entry.info)
	}

	entry, present := room[user.ID]
	if !present {
		room[user.ID] = &presenceEntry{info: user, refs: 1}
		return peers, true
	}
	entry.refs++
	entry.info = user // latest name/color wins
	return peers, false
}

// Leave decrements the user's refcount. It reports whether the user is now
// absent (count reached 0). Leaving an unknown room or user is a logged
// no-op, never an error: presence must not block or fail callers.
func (p *PresenceTracker) Leave(roomID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[roomID]
	if !ok {
		p.logger.Debug("presence leave on unknown room", slog.String("roomID", roomID))
		return false
	}
	entry, ok := room[userID]
	if !ok {
		p.logger.Debug("presence leave on absent user", slog.String("roomID", roomID), slog.String("userID", userID))
		return false
	}
	if entry.refs <= 1 {
		delete(room, userID)
		if len(room) == 0 {
			delete(p.rooms, roomID)
		}
		return true
	}
	entry.refs--
	return false
}

// Snapshot returns everyone currently present in the room. Unknown rooms
// yield an empty slice.
func (p *PresenceTracker) Snapshot(roomID string) []protocol.UserInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	room, ok := p.rooms[roomID]
	if !ok {
		return nil
	}
	users := make([]protocol.UserInfo, 0, len(room))
	for _, entry := range room {
		users = append(users, entry.info)
	}
	return users
}

// PurgeRoom drops all presence entries for a room that no longer exists.
func (p *PresenceTracker) PurgeRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, roomID)
}
