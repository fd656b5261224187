// Package agent implements the client side of the collab session: it
// throttles outgoing edits, reconciles incoming remote events against local
// state and drives reconnect/rejoin after a transport drop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/notewave/collabd/internal/protocol"
	"github.com/notewave/collabd/internal/store"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ConnectionEvent surfaces lifecycle signals to the embedding application.
type ConnectionEvent struct {
	Kind    string // "connect-error", "disconnected", "reconnected", "reconnect-failed", "connection-restored"
	Attempt int
	Reason  string
}

// Callbacks deliver remote events to the embedding application. All
// callbacks are invoked from the agent's read goroutine; nil callbacks are
// skipped.
type Callbacks struct {
	OnPresence   func(roomID string, users []protocol.UserInfo)
	OnUserJoined func(roomID string, user protocol.UserInfo)
	OnUserLeft   func(roomID, userID string)
	OnCursor     func(update protocol.CursorUpdatePayload)
	OnTyping     func(update protocol.TypingUpdatePayload)
	OnContent    func(update protocol.ContentUpdatedPayload)
	OnRevoked    func(event protocol.AccessRevokedPayload)
	OnConnection func(event ConnectionEvent)
}

type Options struct {
	UserID string
	Dial   Dialer
	// Store receives the debounced persistence writes. Nil disables
	// persistence (the embedding app saves through other means).
	Store store.Store

	ThrottleInterval  time.Duration // outgoing edit coalescing, default 50ms
	DebounceInterval  time.Duration // quiet period before persistence, default 1s
	HeartbeatInterval time.Duration // default 10s
	ReconnectBase     time.Duration // first backoff step, default 250ms
	MaxReconnects     int           // default 5

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.ThrottleInterval <= 0 {
		o.ThrottleInterval = 50 * time.Millisecond
	}
	if o.DebounceInterval <= 0 {
		o.DebounceInterval = time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = 250 * time.Millisecond
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// roomState is the agent's per-room view.
type roomState struct {
	// hydrated flips when the membership snapshot arrives; live presence
	// events observed before that are buffered in pending and replayed
	// after hydration.
	hydrated bool
	pending  []protocol.Envelope
	present  map[string]protocol.UserInfo

	// Two-tier content state: confirmed is what the server last told us,
	// optimistic is our local unacknowledged edit. Reconciliation always
	// replaces, never merges.
	confirmed     protocol.ContentUpdatedPayload
	hasConfirmed  bool
	optimistic    string
	optimisticT   *string
	hasOptimistic bool
}

type Agent struct {
	opts Options
	cb   Callbacks

	mu       sync.Mutex
	state    State
	conn     Conn
	rooms    map[string]*roomState
	seenRevs map[string]struct{}

	// Both maps are keyed by room: a burst in one room must never displace
	// another room's pending emission or save.
	throttle map[string]*Throttler
	persist  map[string]*Debouncer

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	writeMu sync.Mutex
}

func New(opts Options, cb Callbacks) (*Agent, error) {
	if opts.Dial == nil {
		return nil, errors.New("agent: Options.Dial is required")
	}
	opts.applyDefaults()
	return &Agent{
		opts:     opts,
		cb:       cb,
		state:    StateDisconnected,
		rooms:    make(map[string]*roomState),
		seenRevs: make(map[string]struct{}),
		throttle: make(map[string]*Throttler),
		persist:  make(map[string]*Debouncer),
		logger:   opts.Logger.With(slog.String("component", "sync_agent")),
	}, nil
}

// Connect dials the server and starts the read and heartbeat loops. Only
// an auth/dial failure is returned as a hard error.
func (a *Agent) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateDisconnected {
		a.mu.Unlock()
		return errors.New("agent: already connected")
	}
	a.state = StateConnecting
	a.mu.Unlock()

	conn, err := a.opts.Dial(ctx)
	if err != nil {
		a.setState(StateDisconnected)
		a.emitConnEvent(ConnectionEvent{Kind: "connect-error", Reason: err.Error()})
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.conn = conn
	a.ctx = runCtx
	a.cancel = cancel
	a.state = StateJoined
	a.mu.Unlock()

	go a.readLoop(runCtx, conn)
	go a.heartbeatLoop(runCtx)
	return nil
}

// Close tears the agent down, flushing any pending persistence write.
func (a *Agent) Close() {
	a.mu.Lock()
	cancel := a.cancel
	conn := a.conn
	a.conn = nil
	a.state = StateDisconnected
	throttlers := make([]*Throttler, 0, len(a.throttle))
	for _, th := range a.throttle {
		throttlers = append(throttlers, th)
	}
	debouncers := make([]*Debouncer, 0, len(a.persist))
	for _, d := range a.persist {
		debouncers = append(debouncers, d)
	}
	a.mu.Unlock()

	for _, th := range throttlers {
		th.Stop()
	}
	for _, d := range debouncers {
		d.Flush()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Rooms returns the room ids the agent currently tracks.
func (a *Agent) Rooms() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	rooms := make([]string, 0, len(a.rooms))
	for id := range a.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// Presence returns the hydrated presence set for a room.
func (a *Agent) Presence(roomID string) []protocol.UserInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[roomID]
	if !ok {
		return nil
	}
	users := make([]protocol.UserInfo, 0, len(room.present))
	for _, u := range room.present {
		users = append(users, u)
	}
	return users
}

// Content returns the room's current content: the local optimistic edit if
// one is outstanding, otherwise the last confirmed remote state.
func (a *Agent) Content(roomID string) (content string, confirmed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[roomID]
	if !ok {
		return "", false
	}
	if room.hasOptimistic {
		return room.optimistic, false
	}
	return room.confirmed.Content, room.hasConfirmed
}

// --- Outgoing operations ---

// JoinRoom subscribes to a room. Presence callbacks fire once the
// membership snapshot arrives.
func (a *Agent) JoinRoom(roomID string) error {
	a.mu.Lock()
	if _, ok := a.rooms[roomID]; !ok {
		a.rooms[roomID] = &roomState{present: make(map[string]protocol.UserInfo)}
	}
	a.mu.Unlock()
	return a.send(protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: roomID})
}

func (a *Agent) LeaveRoom(roomID string) error {
	a.mu.Lock()
	delete(a.rooms, roomID)
	if th, ok := a.throttle[roomID]; ok {
		delete(a.throttle, roomID)
		th.Stop()
	}
	if d, ok := a.persist[roomID]; ok {
		delete(a.persist, roomID)
		defer d.Flush()
	}
	a.mu.Unlock()
	return a.send(protocol.EventLeaveRoom, protocol.LeaveRoomPayload{RoomID: roomID})
}

func (a *Agent) MoveCursor(roomID string, pos protocol.Position) error {
	return a.send(protocol.EventCursorMove, protocol.CursorMovePayload{RoomID: roomID, Position: pos})
}

func (a *Agent) SetTyping(roomID string, isTyping bool) error {
	return a.send(protocol.EventTyping, protocol.TypingPayload{RoomID: roomID, IsTyping: isTyping})
}

// EditContent records a local edit. The broadcast to peers is throttled;
// the persistence write is debounced independently and only happens after
// the configured quiet period.
func (a *Agent) EditContent(roomID, content string, title *string) {
	a.mu.Lock()
	room, ok := a.rooms[roomID]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("Edit for unjoined room dropped", slog.String("roomID", roomID))
		return
	}
	room.optimistic = content
	room.optimisticT = title
	room.hasOptimistic = true
	throttler, ok := a.throttle[roomID]
	if !ok {
		throttler = NewThrottler(a.opts.ThrottleInterval)
		a.throttle[roomID] = throttler
	}
	debouncer, ok := a.persist[roomID]
	if !ok {
		debouncer = NewDebouncer(a.opts.DebounceInterval)
		a.persist[roomID] = debouncer
	}
	a.mu.Unlock()

	throttler.Do(func() {
		a.mu.Lock()
		room, ok := a.rooms[roomID]
		if !ok {
			a.mu.Unlock()
			return
		}
		latest, latestTitle := room.optimistic, room.optimisticT
		a.mu.Unlock()
		a.send(protocol.EventContentChange, protocol.ContentChangePayload{
			RoomID:  roomID,
			Content: latest,
			Title:   latestTitle,
		})
	})

	if a.opts.Store != nil {
		debouncer.Trigger(func() {
			a.mu.Lock()
			room, ok := a.rooms[roomID]
			if !ok {
				a.mu.Unlock()
				return
			}
			content, title := room.optimistic, ""
			if room.optimisticT != nil {
				title = *room.optimisticT
			}
			a.mu.Unlock()
			if err := a.opts.Store.SaveDocument(context.Background(), roomID, content, title); err != nil {
				a.logger.Error("Debounced save failed", slog.String("roomID", roomID), slog.Any("error", err))
			}
		})
	}
}

// RevokeAccess asks the server to notify a user that their access to a
// resource was withdrawn.
func (a *Agent) RevokeAccess(rev protocol.RevocationPayload) error {
	return a.send(protocol.EventRevokeAccess, rev)
}

// --- Loops ---

func (a *Agent) readLoop(ctx context.Context, conn Conn) {
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.handleDrop(err)
			return
		}
		a.dispatch(msg)
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.send(protocol.EventPing, struct{}{})
		case <-ctx.Done():
			return
		}
	}
}

// handleDrop transitions to RECONNECTING and runs the backoff loop. The
// server performs its own disconnect cleanup independently; both sides are
// idempotent about it.
func (a *Agent) handleDrop(cause error) {
	a.mu.Lock()
	if a.state != StateJoined {
		a.mu.Unlock()
		return
	}
	a.state = StateReconnecting
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	// Rejoined rooms must be re-hydrated, and whatever content arrives
	// first after the rejoin is authoritative over local optimistic edits.
	for _, room := range a.rooms {
		room.hydrated = false
		room.pending = nil
		room.present = make(map[string]protocol.UserInfo)
	}
	a.mu.Unlock()

	a.emitConnEvent(ConnectionEvent{Kind: "disconnected", Reason: cause.Error()})
	go a.reconnectLoop()
}

func (a *Agent) reconnectLoop() {
	for attempt := 1; attempt <= a.opts.MaxReconnects; attempt++ {
		a.mu.Lock()
		ctx := a.ctx
		a.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		delay := a.opts.ReconnectBase << (attempt - 1)
		delay += time.Duration(rand.Int63n(int64(a.opts.ReconnectBase)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		conn, err := a.opts.Dial(ctx)
		if err != nil {
			a.logger.Warn("Reconnect attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}

		a.mu.Lock()
		a.conn = conn
		a.state = StateJoined
		rooms := make([]string, 0, len(a.rooms))
		for id := range a.rooms {
			rooms = append(rooms, id)
		}
		a.mu.Unlock()

		go a.readLoop(ctx, conn)
		// Re-subscribe to the pre-drop room set. Order is unspecified.
		for _, roomID := range rooms {
			a.send(protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: roomID})
		}
		a.emitConnEvent(ConnectionEvent{Kind: "reconnected", Attempt: attempt})
		a.emitConnEvent(ConnectionEvent{Kind: "connection-restored"})
		return
	}

	a.setState(StateDisconnected)
	a.emitConnEvent(ConnectionEvent{Kind: "reconnect-failed", Attempt: a.opts.MaxReconnects})
}

// --- Incoming dispatch ---

func (a *Agent) dispatch(msg []byte) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(msg, &envelope); err != nil {
		a.logger.Warn("Malformed server message", slog.Any("error", err))
		return
	}
	a.handleEvent(envelope, false)
}

// handleEvent applies one server event. replay marks events re-delivered
// from the hydration buffer, which must not be re-buffered.
func (a *Agent) handleEvent(envelope protocol.Envelope, replay bool) {
	switch envelope.Event {
	case protocol.EventMembershipSnapshot:
		a.handleSnapshot(envelope.Payload)
	case protocol.EventUserJoined, protocol.EventUserLeft,
		protocol.EventCursorUpdate, protocol.EventTypingUpdate,
		protocol.EventContentUpdated:
		a.handleRoomEvent(envelope, replay)
	case protocol.EventAccessRevoked:
		a.handleRevoked(envelope.Payload)
	case protocol.EventConnectionRestored, protocol.EventPong:
		// informational
	default:
		a.logger.Debug("Ignoring unknown server event", slog.String("event", envelope.Event))
	}
}

func (a *Agent) handleSnapshot(payload json.RawMessage) {
	var p protocol.MembershipSnapshotPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		a.logger.Warn("Bad membership snapshot", slog.Any("error", err))
		return
	}

	a.mu.Lock()
	room, ok := a.rooms[p.RoomID]
	if !ok {
		a.mu.Unlock()
		return
	}
	room.present = make(map[string]protocol.UserInfo, len(p.Users))
	for _, u := range p.Users {
		room.present[u.ID] = u
	}
	room.hydrated = true
	buffered := room.pending
	room.pending = nil
	users := make([]protocol.UserInfo, 0, len(room.present))
	for _, u := range room.present {
		users = append(users, u)
	}
	a.mu.Unlock()

	if a.cb.OnPresence != nil {
		a.cb.OnPresence(p.RoomID, users)
	}
	// Replay live events that raced ahead of the snapshot.
	for _, env := range buffered {
		a.handleEvent(env, true)
	}
}

// handleRoomEvent buffers live events for unhydrated rooms, otherwise
// applies them. Events for rooms the agent no longer tracks are discarded
// silently; the next join re-syncs.
func (a *Agent) handleRoomEvent(envelope protocol.Envelope, replay bool) {
	roomID := roomIDOf(envelope.Payload)
	a.mu.Lock()
	room, ok := a.rooms[roomID]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("Dropping event for unjoined room", slog.String("event", envelope.Event), slog.String("roomID", roomID))
		return
	}
	if !room.hydrated && !replay {
		room.pending = append(room.pending, envelope)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	switch envelope.Event {
	case protocol.EventUserJoined:
		var p protocol.UserJoinedPayload
		if json.Unmarshal(envelope.Payload, &p) != nil {
			return
		}
		a.mu.Lock()
		room.present[p.User.ID] = p.User
		a.mu.Unlock()
		if a.cb.OnUserJoined != nil {
			a.cb.OnUserJoined(p.RoomID, p.User)
		}
	case protocol.EventUserLeft:
		var p protocol.UserLeftPayload
		if json.Unmarshal(envelope.Payload, &p) != nil {
			return
		}
		a.mu.Lock()
		_, present := room.present[p.UserID]
		delete(room.present, p.UserID)
		a.mu.Unlock()
		// A user-left with no matching presence entry is a stale
		// pre-snapshot event; ignore it.
		if present && a.cb.OnUserLeft != nil {
			a.cb.OnUserLeft(p.RoomID, p.UserID)
		}
	case protocol.EventCursorUpdate:
		var p protocol.CursorUpdatePayload
		if json.Unmarshal(envelope.Payload, &p) != nil {
			return
		}
		if p.UserID == a.opts.UserID {
			return
		}
		if a.cb.OnCursor != nil {
			a.cb.OnCursor(p)
		}
	case protocol.EventTypingUpdate:
		var p protocol.TypingUpdatePayload
		if json.Unmarshal(envelope.Payload, &p) != nil {
			return
		}
		if p.UserID == a.opts.UserID {
			return
		}
		if a.cb.OnTyping != nil {
			a.cb.OnTyping(p)
		}
	case protocol.EventContentUpdated:
		var p protocol.ContentUpdatedPayload
		if json.Unmarshal(envelope.Payload, &p) != nil {
			return
		}
		// Echo suppression: our own broadcast must not clobber the
		// in-progress local edit.
		if p.UpdatedBy == a.opts.UserID {
			return
		}
		a.mu.Lock()
		// Remote wins unconditionally: confirmed replaces optimistic,
		// no merge. After a rejoin this is what makes the first remote
		// content authoritative.
		room.confirmed = p
		room.hasConfirmed = true
		room.hasOptimistic = false
		room.optimistic = ""
		room.optimisticT = nil
		a.mu.Unlock()
		if a.cb.OnContent != nil {
			a.cb.OnContent(p)
		}
	}
}

func (a *Agent) handleRevoked(payload json.RawMessage) {
	var p protocol.AccessRevokedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	a.mu.Lock()
	if _, seen := a.seenRevs[p.EventID]; seen {
		a.mu.Unlock()
		return
	}
	a.seenRevs[p.EventID] = struct{}{}
	a.mu.Unlock()
	if a.cb.OnRevoked != nil {
		a.cb.OnRevoked(p)
	}
}

// --- Plumbing ---

func (a *Agent) send(event string, payload any) error {
	a.mu.Lock()
	conn := a.conn
	ctx := a.ctx
	a.mu.Unlock()
	if conn == nil || ctx == nil {
		return errors.New("agent: not connected")
	}
	msg, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.Write(ctx, msg)
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Agent) emitConnEvent(event ConnectionEvent) {
	if a.cb.OnConnection != nil {
		a.cb.OnConnection(event)
	}
}

func roomIDOf(payload json.RawMessage) string {
	var probe struct {
		RoomID string `json:"roomId"`
	}
	json.Unmarshal(payload, &probe)
	return probe.RoomID
}
