package session

import (
	"log/slog"
	"sync"
	"time"
)

// ExpireFunc is invoked when a user's typing flag auto-expires. It runs on
// the timer goroutine, after the coordinator's lock is released.
type ExpireFunc func(roomID, userID string)

type typingEntry struct {
	timer *time.Timer
	// gen guards against a timer that fired while a refresh was taking the
	// lock: only the firing matching the current generation expires.
	gen uint64
}

// TypingCoordinator owns the per (room, user) typing flags. A flag set to
// true auto-reverts after the timeout unless refreshed; a refresh resets the
// timer, it never stacks a second one.
type TypingCoordinator struct {
	mu      sync.Mutex
	entries map[string]map[string]*typingEntry // roomID -> userID

	timeout  time.Duration
	onExpire ExpireFunc

	logger *slog.Logger
}

func NewTypingCoordinator(logger *slog.Logger, timeout time.Duration, onExpire ExpireFunc) *TypingCoordinator {
	return &TypingCoordinator{
		entries:  make(map[string]map[string]*typingEntry),
		timeout:  timeout,
		onExpire: onExpire,
		logger:   logger.With(slog.String("component", "typing")),
	}
}

// Set updates the user's typing flag. It reports whether the visible state
// changed, so the caller can skip redundant broadcasts.
func (t *TypingCoordinator) Set(roomID, userID string, isTyping bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.entries[roomID]
	if isTyping {
		if !ok {
			room = make(map[string]*typingEntry)
			t.entries[roomID] = room
		}
		if entry, typing := room[userID]; typing {
			// Refresh: replace the running timer instead of stacking one.
			// The bumped generation invalidates any firing already in
			// flight from the old timer.
			entry.timer.Stop()
			entry.gen++
			gen := entry.gen
			entry.timer = time.AfterFunc(t.timeout, func() {
				t.expire(roomID, userID, gen)
			})
			return false
		}
		entry := &typingEntry{}
		room[userID] = entry
		gen := entry.gen
		entry.timer = time.AfterFunc(t.timeout, func() {
			t.expire(roomID, userID, gen)
		})
		return true
	}

	// Explicit stop: cancel the pending timer and report the transition.
	if !ok {
		return false
	}
	entry, typing := room[userID]
	if !typing {
		return false
	}
	entry.timer.Stop()
	t.removeLocked(roomID, userID)
	return true
}

func (t *TypingCoordinator) expire(roomID, userID string, gen uint64) {
	t.mu.Lock()
	room, ok := t.entries[roomID]
	if !ok {
		t.mu.Unlock()
		return
	}
	entry, typing := room[userID]
	if !typing || entry.gen != gen {
		// Refreshed or stopped while this firing was in flight.
		t.mu.Unlock()
		return
	}
	t.removeLocked(roomID, userID)
	t.mu.Unlock()

	t.logger.Debug("Typing flag expired", slog.String("roomID", roomID), slog.String("userID", userID))
	if t.onExpire != nil {
		t.onExpire(roomID, userID)
	}
}

// IsTyping reports the current flag for a user.
func (t *TypingCoordinator) IsTyping(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.entries[roomID]
	if !ok {
		return false
	}
	_, typing := room[userID]
	return typing
}

// TypingUsers returns the users currently typing in a room.
func (t *TypingCoordinator) TypingUsers(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.entries[roomID]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(room))
	for userID := range room {
		users = append(users, userID)
	}
	return users
}

// PurgeUser cancels the user's timer without broadcasting. Used when the
// user disconnects or leaves the room.
func (t *TypingCoordinator) PurgeUser(roomID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.entries[roomID]
	if !ok {
		return
	}
	if entry, typing := room[userID]; typing {
		entry.timer.Stop()
		t.removeLocked(roomID, userID)
	}
}

// PurgeRoom cancels every timer in an emptied room without broadcasting.
func (t *TypingCoordinator) PurgeRoom(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.entries[roomID]
	if !ok {
		return
	}
	for _, entry := range room {
		entry.timer.Stop()
	}
	delete(t.entries, roomID)
}

// removeLocked assumes t.mu is held.
func (t *TypingCoordinator) removeLocked(roomID, userID string) {
	room := t.entries[roomID]
	delete(room, userID)
	if len(room) == 0 {
		delete(t.entries, roomID)
	}
}
