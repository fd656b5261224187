package session

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/notewave/collabd/internal/protocol"
)

// cursorPalette is the fixed set of colors assigned to users. The pick is a
// stable hash of the user id so every peer renders the same color.
var cursorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

// CursorColor returns the deterministic color for a user.
func CursorColor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return cursorPalette[h.Sum32()%uint32(len(cursorPalette))]
}

type cursorEntry struct {
	position  protocol.Position
	updatedAt time.Time
}

// CursorBroadcaster owns the transient cursor positions per (room, user).
// Entries older than staleAfter are purged by a background sweep and never
// reported again; removal is silent, stale cursors are not retracted with
// an event.
type CursorBroadcaster struct {
	mu    sync.Mutex
	rooms map[string]map[string]*cursorEntry // roomID -> userID -> entry

	staleAfter time.Duration
	now        func() time.Time

	logger *slog.Logger
}

func NewCursorBroadcaster(logger *slog.Logger, staleAfter time.Duration) *CursorBroadcaster {
	return &CursorBroadcaster{
		rooms:      make(map[string]map[string]*cursorEntry),
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "cursor")),
	}
}

// Update stores or overwrites the user's cursor position.
func (c *CursorBroadcaster) Update(roomID, userID string, pos protocol.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		room = make(map[string]*cursorEntry)
		c.rooms[roomID] = room
	}
	room[userID] = &cursorEntry{position: pos, updatedAt: c.now()}
}

// Snapshot returns the non-stale cursor positions in a room. Staleness is
// measured from each entry's last update, not from a fixed origin.
func (c *CursorBroadcaster) Snapshot(roomID string) map[string]protocol.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	cutoff := c.now().Add(-c.staleAfter)
	out := make(map[string]protocol.Position, len(room))
	for userID, entry := range room {
		if entry.updatedAt.Before(cutoff) {
			continue
		}
		out[userID] = entry.position
	}
	return out
}

// Sweep purges every stale entry and returns how many were removed.
func (c *CursorBroadcaster) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.staleAfter)
	purged := 0
	for roomID, room := range c.rooms {
		for userID, entry := range room {
			if entry.updatedAt.Before(cutoff) {
				delete(room, userID)
				purged++
			}
		}
		if len(room) == 0 {
			delete(c.rooms, roomID)
		}
	}
	return purged
}

// RunSweeper drives Sweep on the given interval until ctx is cancelled.
func (c *CursorBroadcaster) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Swept stale cursors", slog.Int("purged", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RemoveUser drops the user's cursor immediately (disconnect or leave).
func (c *CursorBroadcaster) RemoveUser(roomID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if room, ok := c.rooms[roomID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(c.rooms, roomID)
		}
	}
}

// PurgeRoom drops all cursor state for an emptied room.
func (c *CursorBroadcaster) PurgeRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}
