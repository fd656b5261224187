package session_test

import (
	"log/slog"
	"os"
	"sort"
	"testing"

	"github.com/notewave/collabd/internal/protocol"
	"github.com/notewave/collabd/internal/session"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func user(id string) protocol.UserInfo {
	return protocol.UserInfo{ID: id, Name: id, Color: "#ffffff"}
}

func ids(users []protocol.UserInfo) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	sort.Strings(out)
	return out
}

func TestPresenceRefcounting(t *testing.T) {
	p := session.NewPresenceTracker(newTestLogger())

	if _, visible := p.Join("room-1", user("alice")); !visible {
		t.Error("First Join should report the user became visible")
	}
	// Second tab of the same user.
	if _, visible := p.Join("room-1", user("alice")); visible {
		t.Error("Second Join of the same user must not report visibility again")
	}

	if p.Leave("room-1", "alice") {
		t.Error("Leaving one of two references must not report absence")
	}
	if !p.Leave("room-1", "alice") {
		t.Error("Leaving the last reference must report absence")
	}

	if users := p.Snapshot("room-1"); len(users) != 0 {
		t.Errorf("Expected empty room after last leave, got %v", users)
	}
}

func TestPresenceJoinReturnsPeersExcludingJoiner(t *testing.T) {
	p := session.NewPresenceTracker(newTestLogger())

	peers, _ := p.Join("room-1", user("alice"))
	if len(peers) != 0 {
		t.Errorf("First joiner should see an empty room, got %v", ids(peers))
	}

	peers, _ = p.Join("room-1", user("bob"))
	if got := ids(peers); len(got) != 1 || got[0] != "alice" {
		t.Errorf("bob's peers should be exactly alice, got %v", got)
	}
	if peers[0].Name != "alice" || peers[0].Color != "#ffffff" {
		t.Errorf("Peer entries must carry display info, got %+v", peers[0])
	}

	// A second tab still sees peers, never itself.
	peers, _ = p.Join("room-1", user("bob"))
	if got := ids(peers); len(got) != 1 || got[0] != "alice" {
		t.Errorf("bob's second tab should still see only alice, got %v", got)
	}
}

func TestPresenceSnapshot(t *testing.T) {
	p := session.NewPresenceTracker(newTestLogger())
	p.Join("room-1", user("alice"))
	p.Join("room-1", user("bob"))
	p.Join("room-2", user("carol"))

	if got := ids(p.Snapshot("room-1")); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("Unexpected snapshot: %v", got)
	}

	if users := p.Snapshot("nope"); users != nil {
		t.Errorf("Unknown room should yield nil, got %v", users)
	}
}

func TestPresenceLeaveUnknownIsNoop(t *testing.T) {
	p := session.NewPresenceTracker(newTestLogger())

	if p.Leave("ghost-room", "alice") {
		t.Error("Leave on unknown room must report false")
	}
	p.Join("room-1", user("alice"))
	if p.Leave("room-1", "bob") {
		t.Error("Leave on absent user must report false")
	}
	if users := p.Snapshot("room-1"); len(users) != 1 {
		t.Errorf("Unrelated leave must not disturb presence, got %v", users)
	}
}

func TestPresencePurgeRoom(t *testing.T) {
	p := session.NewPresenceTracker(newTestLogger())
	p.Join("room-1", user("alice"))
	p.Join("room-1", user("bob"))

	p.PurgeRoom("room-1")
	if users := p.Snapshot("room-1"); len(users) != 0 {
		t.Errorf("Expected no presence after purge, got %v", users)
	}
}
