package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/notewave/collabd/internal/hub"
	"github.com/notewave/collabd/internal/protocol"
	"github.com/notewave/collabd/pkg/config"
	"github.com/notewave/collabd/pkg/state"
	"github.com/notewave/collabd/pkg/state/statemanager"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeSender struct {
	id   uuid.UUID
	mu   sync.Mutex
	msgs [][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{id: uuid.New()}
}

func (f *fakeSender) ID() uuid.UUID { return f.id }
func (f *fakeSender) Close(_ error) {}

func (f *fakeSender) Send(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeSender) received(t *testing.T, event string) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []protocol.Envelope
	for _, msg := range f.msgs {
		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("Captured message is not a valid envelope: %v", err)
		}
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

type routerFixture struct {
	router  *EventRouter
	hub     *hub.Hub
	manager state.Manager
}

func newFixture(minInterval time.Duration) *routerFixture {
	logger := newTestLogger()
	manager := statemanager.NewInMemoryManager(logger)
	h := hub.New(logger, manager, config.CollabConfig{
		CursorStaleAfter:  time.Minute,
		CursorSweepEvery:  time.Second,
		CursorMinInterval: minInterval,
		TypingTimeout:     time.Minute,
	})
	return &routerFixture{
		router:  NewEventRouter(logger, h, manager, NewCursorGates(minInterval)),
		hub:     h,
		manager: manager,
	}
}

func (f *routerFixture) connect(t *testing.T, userID, name string) (*state.Connection, *fakeSender) {
	t.Helper()
	sender := newFakeSender()
	conn, err := f.hub.HandleConnect(sender, "127.0.0.1", userID, name)
	if err != nil {
		t.Fatalf("HandleConnect failed: %v", err)
	}
	return conn, sender
}

func envelope(t *testing.T, event string, payload any) []byte {
	t.Helper()
	msg, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return msg
}

// --- Dispatch ---

func TestHandleMessageDispatchesJoin(t *testing.T) {
	f := newFixture(time.Minute)
	conn, sender := f.connect(t, "alice", "Alice")

	f.router.HandleMessage(context.Background(), conn.ID,
		envelope(t, protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: "note-1"}))

	if snaps := sender.received(t, protocol.EventMembershipSnapshot); len(snaps) != 1 {
		t.Errorf("Expected a membership snapshot reply, got %d", len(snaps))
	}
}

func TestHandleMessageToleratesGarbage(t *testing.T) {
	f := newFixture(time.Minute)
	conn, _ := f.connect(t, "alice", "Alice")

	// None of these should panic or disturb the connection.
	f.router.HandleMessage(context.Background(), conn.ID, []byte("not json"))
	f.router.HandleMessage(context.Background(), conn.ID,
		[]byte(`{"event":"no-such-event","payload":{}}`))
	f.router.HandleMessage(context.Background(), conn.ID,
		[]byte(`{"event":"join-room","payload":{"roomId":42}}`))
	f.router.HandleMessage(context.Background(), conn.ID,
		envelope(t, protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: ""}))

	// Message for a connection the manager no longer knows is dropped.
	f.router.HandleMessage(context.Background(), uuid.New(),
		envelope(t, protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: "note-1"}))

	if _, ok := f.manager.GetConnection(conn.ID); !ok {
		t.Error("Garbage input must not tear down the connection")
	}
}

func TestHandleMessageDispatchesTypingAndContent(t *testing.T) {
	f := newFixture(time.Minute)
	connA, _ := f.connect(t, "alice", "Alice")
	connB, senderB := f.connect(t, "bob", "Bob")

	f.router.HandleMessage(context.Background(), connA.ID,
		envelope(t, protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: "note-1"}))
	f.router.HandleMessage(context.Background(), connB.ID,
		envelope(t, protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: "note-1"}))

	f.router.HandleMessage(context.Background(), connA.ID,
		envelope(t, protocol.EventTyping, protocol.TypingPayload{RoomID: "note-1", IsTyping: true}))
	f.router.HandleMessage(context.Background(), connA.ID,
		envelope(t, protocol.EventContentChange, protocol.ContentChangePayload{RoomID: "note-1", Content: "draft"}))

	if msgs := senderB.received(t, protocol.EventTypingUpdate); len(msgs) != 1 {
		t.Errorf("Expected a typing update at bob, got %d", len(msgs))
	}
	msgs := senderB.received(t, protocol.EventContentUpdated)
	if len(msgs) != 1 {
		t.Fatalf("Expected a content update at bob, got %d", len(msgs))
	}
	var p protocol.ContentUpdatedPayload
	json.Unmarshal(msgs[0].Payload, &p)
	if p.Content != "draft" || p.UpdatedBy != "alice" {
		t.Errorf("Unexpected content payload: %+v", p)
	}
}

func TestHandleMessageRevokeFillsRevokedBy(t *testing.T) {
	f := newFixture(time.Minute)
	connA, _ := f.connect(t, "alice", "Alice")
	_, senderB := f.connect(t, "bob", "Bob")

	f.router.HandleMessage(context.Background(), connA.ID,
		envelope(t, protocol.EventRevokeAccess, protocol.RevocationPayload{
			TargetUserID: "bob",
			ResourceID:   "note-1",
			ResourceType: "note",
		}))

	msgs := senderB.received(t, protocol.EventAccessRevoked)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 revocation at bob, got %d", len(msgs))
	}
	var p protocol.AccessRevokedPayload
	json.Unmarshal(msgs[0].Payload, &p)
	if p.RevokedBy != "alice" {
		t.Errorf("RevokedBy should default to the sender, got %q", p.RevokedBy)
	}
}

func TestHandleMessagePingRepliesPong(t *testing.T) {
	f := newFixture(time.Minute)
	conn, sender := f.connect(t, "alice", "Alice")

	f.router.HandleMessage(context.Background(), conn.ID, envelope(t, protocol.EventPing, struct{}{}))

	if msgs := sender.received(t, protocol.EventPong); len(msgs) != 1 {
		t.Errorf("Expected a pong reply, got %d", len(msgs))
	}
}

// --- Cursor gate ---

func TestCursorGateEmitsImmediatelyWhenWindowOpen(t *testing.T) {
	g := NewCursorGates(50 * time.Millisecond)
	connID := uuid.New()

	var got []protocol.CursorMovePayload
	g.offer(connID, protocol.CursorMovePayload{RoomID: "r", Position: protocol.Position{X: 1}}, func(p protocol.CursorMovePayload) {
		got = append(got, p)
	})
	if len(got) != 1 || got[0].Position.X != 1 {
		t.Fatalf("First offer must emit immediately, got %v", got)
	}
}

func TestCursorGateCoalescesBurstLastValueWins(t *testing.T) {
	g := NewCursorGates(60 * time.Millisecond)
	connID := uuid.New()

	var mu sync.Mutex
	var got []protocol.CursorMovePayload
	emit := func(p protocol.CursorMovePayload) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}

	// Burst of 5 inside one window: first emits, the rest coalesce into one
	// trailing flush carrying the final position.
	for i := 1; i <= 5; i++ {
		g.offer(connID, protocol.CursorMovePayload{RoomID: "r", Position: protocol.Position{X: float64(i)}}, emit)
	}

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("Expected immediate emit plus one flush, got %d emissions", len(got))
	}
	if got[0].Position.X != 1 {
		t.Errorf("First emission should be the leading value, got %v", got[0].Position)
	}
	if got[1].Position.X != 5 {
		t.Errorf("Flush must carry the last value, got %v", got[1].Position)
	}
}

func TestCursorGateWindowReopens(t *testing.T) {
	g := NewCursorGates(30 * time.Millisecond)
	connID := uuid.New()

	var mu sync.Mutex
	count := 0
	emit := func(protocol.CursorMovePayload) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	g.offer(connID, protocol.CursorMovePayload{RoomID: "r"}, emit)
	time.Sleep(60 * time.Millisecond)
	g.offer(connID, protocol.CursorMovePayload{RoomID: "r"}, emit)

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("Offers in separate windows must both emit, got %d", count)
	}
}

func TestCursorGateForgetCancelsPendingFlush(t *testing.T) {
	g := NewCursorGates(40 * time.Millisecond)
	connID := uuid.New()

	var mu sync.Mutex
	count := 0
	emit := func(protocol.CursorMovePayload) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	g.offer(connID, protocol.CursorMovePayload{RoomID: "r"}, emit) // emits
	g.offer(connID, protocol.CursorMovePayload{RoomID: "r"}, emit) // parked
	g.forget(connID)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("Forget must cancel the parked flush, got %d emissions", count)
	}
}

func TestForgetConnectionIsIdempotent(t *testing.T) {
	f := newFixture(time.Minute)
	conn, _ := f.connect(t, "alice", "Alice")

	f.router.ForgetConnection(conn.ID)
	f.router.ForgetConnection(conn.ID) // unknown gate, no-op
}
