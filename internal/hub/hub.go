// Package hub wires the connection/room state to the ephemeral session
// components and owns every broadcast fan-out. All engine semantics that
// span more than one component (join ordering, presence refcounts, purge on
// empty room, echo suppression) live here.
package hub

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/notewave/collabd/internal/protocol"
	"github.com/notewave/collabd/internal/session"
	"github.com/notewave/collabd/pkg/config"
	"github.com/notewave/collabd/pkg/state"
)

type Hub struct {
	logger   *slog.Logger
	state    state.Manager
	presence *session.PresenceTracker
	cursors  *session.CursorBroadcaster
	typing   *session.TypingCoordinator
	revs     *session.ContentRevisions
	cfg      config.CollabConfig
}

func New(logger *slog.Logger, manager state.Manager, cfg config.CollabConfig) *Hub {
	h := &Hub{
		logger:   logger.With(slog.String("component", "hub")),
		state:    manager,
		presence: session.NewPresenceTracker(logger),
		cursors:  session.NewCursorBroadcaster(logger, cfg.CursorStaleAfter),
		revs:     session.NewContentRevisions(),
		cfg:      cfg,
	}
	h.typing = session.NewTypingCoordinator(logger, cfg.TypingTimeout, h.onTypingExpired)
	return h
}

// Start launches the background cursor staleness sweeper.
func (h *Hub) Start(ctx context.Context) {
	go h.cursors.RunSweeper(ctx, h.cfg.CursorSweepEvery)
}

// State exposes the underlying manager for the server layer (connection
// limiting, shutdown drain).
func (h *Hub) State() state.Manager { return h.state }

// Presence exposes the tracker backing the join-time roster replies.
func (h *Hub) Presence() *session.PresenceTracker { return h.presence }

// Cursors exposes the broadcaster for snapshot queries and tests.
func (h *Hub) Cursors() *session.CursorBroadcaster { return h.cursors }

// Typing exposes the coordinator for tests and queries.
func (h *Hub) Typing() *session.TypingCoordinator { return h.typing }

// --- Connection lifecycle ---

// HandleConnect registers an authenticated connection, links it to its user
// and auto-joins the user's personal notification room.
func (h *Hub) HandleConnect(transport state.Sender, ipAddr, userID, name string) (*state.Connection, error) {
	conn, err := h.state.RegisterConnection(transport, ipAddr)
	if err != nil {
		return nil, err
	}
	if _, err := h.state.AssociateUser(conn.ID, userID, name, session.CursorColor(userID)); err != nil {
		h.state.DeregisterConnection(conn.ID)
		return nil, err
	}
	// Every user holds an implicit personal room for revocation and
	// activity notifications, independent of any document room.
	if _, err := h.state.Join(conn.ID, protocol.PersonalRoom(userID)); err != nil {
		h.logger.Error("Failed to join personal room", slog.String("userID", userID), slog.Any("error", err))
	}
	return conn, nil
}

// HandleDisconnect tears down everything the connection touched: room
// memberships, presence, cursors and typing flags. Idempotent, since both
// sides of a transport drop may detect it at different times.
func (h *Hub) HandleDisconnect(connID uuid.UUID) {
	result, err := h.state.DeregisterConnection(connID)
	if err != nil {
		h.logger.Error("Disconnect cleanup failed", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}
	for _, departure := range result.Rooms {
		h.finishLeave(result.UserID, departure.RoomID, departure.LastForUser, departure.RoomEmptied)
	}
}

// --- Room membership ---

// JoinRoom adds the connection to the room and replies with the presence
// roster. The roster snapshot and the joiner's own presence entry are taken
// in one tracker critical section, before any broadcast, so the joiner never
// sees its own join event. Duplicate joins still get the roster but trigger
// no broadcast.
func (h *Hub) JoinRoom(conn *state.Connection, roomID string) error {
	result, err := h.state.Join(conn.ID, roomID)
	if err != nil {
		return err
	}
	self := protocol.UserInfo{ID: conn.User.ID, Name: conn.User.Name, Color: conn.User.Color}

	if result.AlreadyJoined {
		// Re-send the current roster without touching the refcounts.
		peers := make([]protocol.UserInfo, 0)
		for _, u := range h.presence.Snapshot(roomID) {
			if u.ID != self.ID {
				peers = append(peers, u)
			}
		}
		h.sendTo(conn.Transport, protocol.EventMembershipSnapshot, protocol.MembershipSnapshotPayload{
			RoomID: roomID,
			Users:  peers,
		})
		return nil
	}

	peers, visible := h.presence.Join(roomID, self)
	h.sendTo(conn.Transport, protocol.EventMembershipSnapshot, protocol.MembershipSnapshotPayload{
		RoomID: roomID,
		Users:  peers,
	})
	if visible {
		h.broadcast(roomID, self.ID, protocol.EventUserJoined, protocol.UserJoinedPayload{
			RoomID: roomID,
			User:   self,
		})
	}
	return nil
}

// LeaveRoom removes the connection from the room. Leaving a room the
// connection never joined is a no-op.
func (h *Hub) LeaveRoom(conn *state.Connection, roomID string) error {
	result, err := h.state.Leave(conn.ID, roomID)
	if err != nil {
		return err
	}
	if !result.WasMember {
		return nil
	}
	h.finishLeave(conn.User.ID, roomID, result.LastForUser, result.RoomEmptied)
	return nil
}

// finishLeave handles the shared tail of leave and disconnect: presence
// bookkeeping, user-left broadcast and ephemeral-state purge.
func (h *Hub) finishLeave(userID, roomID string, lastForUser, roomEmptied bool) {
	if lastForUser {
		h.presence.Leave(roomID, userID)
		h.cursors.RemoveUser(roomID, userID)
		h.typing.PurgeUser(roomID, userID)
		if !roomEmptied {
			h.broadcast(roomID, userID, protocol.EventUserLeft, protocol.UserLeftPayload{
				RoomID: roomID,
				UserID: userID,
			})
		}
	}
	if roomEmptied {
		h.presence.PurgeRoom(roomID)
		h.cursors.PurgeRoom(roomID)
		h.typing.PurgeRoom(roomID)
		h.revs.PurgeRoom(roomID)
	}
}

// --- Session events ---

// CursorMove stores the cursor position and fans it out to the other room
// members, fire-and-forget.
func (h *Hub) CursorMove(conn *state.Connection, roomID string, pos protocol.Position) {
	if !h.isMember(conn, roomID) {
		return
	}
	h.cursors.Update(roomID, conn.User.ID, pos)
	h.broadcast(roomID, conn.User.ID, protocol.EventCursorUpdate, protocol.CursorUpdatePayload{
		RoomID:   roomID,
		UserID:   conn.User.ID,
		Name:     conn.User.Name,
		Position: pos,
		Color:    conn.User.Color,
	})
}

// SetTyping updates the typing flag. Only state transitions broadcast;
// refreshes keep the timer alive silently.
func (h *Hub) SetTyping(conn *state.Connection, roomID string, isTyping bool) {
	if !h.isMember(conn, roomID) {
		return
	}
	if changed := h.typing.Set(roomID, conn.User.ID, isTyping); !changed {
		return
	}
	h.broadcast(roomID, conn.User.ID, protocol.EventTypingUpdate, protocol.TypingUpdatePayload{
		RoomID:   roomID,
		UserID:   conn.User.ID,
		Name:     conn.User.Name,
		IsTyping: isTyping,
	})
}

// onTypingExpired is the coordinator's auto-expiry callback.
func (h *Hub) onTypingExpired(roomID, userID string) {
	name := userID
	if user, ok := h.state.FindUser(userID); ok {
		name = user.Name
	}
	h.broadcast(roomID, userID, protocol.EventTypingUpdate, protocol.TypingUpdatePayload{
		RoomID:   roomID,
		UserID:   userID,
		Name:     name,
		IsTyping: false,
	})
}

// PublishContent relays a content change to every other member of the room,
// stamped with the origin user and a per-room revision. The origin user's
// own connections are excluded; that, plus the agent discarding
// updatedBy == self, is the echo suppression contract.
func (h *Hub) PublishContent(conn *state.Connection, roomID, content string, title *string) {
	if !h.isMember(conn, roomID) {
		return
	}
	rev := h.revs.Next(roomID)
	h.broadcast(roomID, conn.User.ID, protocol.EventContentUpdated, protocol.ContentUpdatedPayload{
		RoomID:    roomID,
		Content:   content,
		Title:     title,
		UpdatedBy: conn.User.ID,
		Rev:       rev,
	})
}

// --- Notification channel ---

// Notify delivers an event to the target user's personal room. When the
// user has no active connection the event is dropped: surfacing missed
// notifications on next login is the persistent store's job, not the
// engine's. Reports whether anything was delivered.
func (h *Hub) Notify(targetUserID string, payload protocol.AccessRevokedPayload) bool {
	conns := h.state.RoomConnections(protocol.PersonalRoom(targetUserID))
	if len(conns) == 0 {
		h.logger.Debug("Dropping notification for offline user", slog.String("userID", targetUserID))
		return false
	}
	msg, err := protocol.Encode(protocol.EventAccessRevoked, payload)
	if err != nil {
		h.logger.Error("Failed to encode notification", slog.Any("error", err))
		return false
	}
	for _, c := range conns {
		c.Sender.Send(msg)
	}
	return true
}

// NotifyBulk delivers each revocation independently, best-effort: a failed
// or undeliverable item is logged and skipped, never aborting the rest.
func (h *Hub) NotifyBulk(revocations []protocol.RevocationPayload) int {
	delivered := 0
	for _, rev := range revocations {
		if rev.TargetUserID == "" {
			h.logger.Warn("Skipping revocation with empty target user")
			continue
		}
		ok := h.Notify(rev.TargetUserID, protocol.AccessRevokedPayload{
			EventID:      uuid.NewString(),
			ResourceID:   rev.ResourceID,
			ResourceType: rev.ResourceType,
			RevokedBy:    rev.RevokedBy,
		})
		if ok {
			delivered++
		}
	}
	return delivered
}

// --- Fan-out plumbing ---

// isMember treats operations against rooms the connection is not part of as
// no-ops: the client relies on the next join-room to re-sync.
func (h *Hub) isMember(conn *state.Connection, roomID string) bool {
	if conn == nil || conn.User == nil {
		return false
	}
	for _, info := range h.state.RoomConnections(roomID) {
		if info.ConnID == conn.ID {
			return true
		}
	}
	h.logger.Debug("Dropping event for room the connection is not in",
		slog.String("connID", conn.ID.String()),
		slog.String("roomID", roomID),
	)
	return false
}

// broadcast marshals once and fans out to every room connection not owned
// by excludeUser. Sends never block; per-peer failures are the transport's
// problem and do not affect the other peers.
func (h *Hub) broadcast(roomID, excludeUser, event string, payload any) {
	msg, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", slog.String("event", event), slog.Any("error", err))
		return
	}
	// Snapshot membership before iterating so concurrent joins/leaves
	// cannot race the fan-out loop.
	for _, info := range h.state.RoomConnections(roomID) {
		if info.UserID == excludeUser {
			continue
		}
		info.Sender.Send(msg)
	}
}

func (h *Hub) sendTo(transport state.Sender, event string, payload any) {
	msg, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("Failed to encode reply", slog.String("event", event), slog.Any("error", err))
		return
	}
	transport.Send(msg)
}
