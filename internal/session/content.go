package session

import "sync"

// ContentRevisions stamps content broadcasts with a per-room monotonic
// sequence. The conflict policy stays last-writer-wins; the sequence only
// makes it possible for receivers to notice that two edits raced.
type ContentRevisions struct {
	mu   sync.Mutex
	revs map[string]uint64
}

func NewContentRevisions() *ContentRevisions {
	return &ContentRevisions{revs: make(map[string]uint64)}
}

// Next increments and returns the room's revision.
func (c *ContentRevisions) Next(roomID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revs[roomID]++
	return c.revs[roomID]
}

// Current returns the last stamped revision, zero for unknown rooms.
func (c *ContentRevisions) Current(roomID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revs[roomID]
}

// PurgeRoom forgets an emptied room's counter.
func (c *ContentRevisions) PurgeRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.revs, roomID)
}
