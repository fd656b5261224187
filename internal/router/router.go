// Package router decodes inbound client envelopes and dispatches them to
// the hub. It also owns the accepting-edge cursor rate gate: a deliberate
// bandwidth/precision tradeoff, not a correctness requirement.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/notewave/collabd/internal/hub"
	"github.com/notewave/collabd/internal/protocol"
	"github.com/notewave/collabd/pkg/state"
	"github.com/tidwall/gjson"
)

type EventRouter struct {
	logger       *slog.Logger
	hub          *hub.Hub
	stateManager state.Manager
	gates        *CursorGates
}

func NewEventRouter(logger *slog.Logger, h *hub.Hub, manager state.Manager, gates *CursorGates) *EventRouter {
	return &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		hub:          h,
		stateManager: manager,
		gates:        gates,
	}
}

func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg protocol.Envelope
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}

	conn, ok := r.stateManager.GetConnection(connID)
	if !ok {
		r.logger.Error("could not find connection profile for active connection", slog.String("connID", connID.String()))
		return
	}

	// Cheap peek at the room id for the dispatch log; full decode happens
	// per handler.
	r.logger.Debug("Dispatching event",
		slog.String("event", clientMsg.Event),
		slog.String("connID", connID.String()),
		slog.String("roomID", gjson.GetBytes(clientMsg.Payload, "roomId").String()),
	)

	switch clientMsg.Event {
	case protocol.EventJoinRoom:
		r.handleJoinRoom(conn, clientMsg.Payload)
	case protocol.EventLeaveRoom:
		r.handleLeaveRoom(conn, clientMsg.Payload)
	case protocol.EventCursorMove:
		r.handleCursorMove(conn, clientMsg.Payload)
	case protocol.EventTyping:
		r.handleTyping(conn, clientMsg.Payload)
	case protocol.EventContentChange:
		r.handleContentChange(conn, clientMsg.Payload)
	case protocol.EventRevokeAccess:
		r.handleRevokeAccess(conn, clientMsg.Payload)
	case protocol.EventRevokeAccessBulk:
		r.handleRevokeAccessBulk(conn, clientMsg.Payload)
	case protocol.EventPing:
		r.handlePing(conn)
	default:
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
	}
}

// ForgetConnection drops the connection's cursor gate and cancels any
// pending coalesced flush.
func (r *EventRouter) ForgetConnection(connID uuid.UUID) {
	r.gates.forget(connID)
}

func (r *EventRouter) handleJoinRoom(conn *state.Connection, payload json.RawMessage) {
	var p protocol.JoinRoomPayload
	if !r.decode(payload, &p, protocol.EventJoinRoom) || p.RoomID == "" {
		return
	}
	if err := r.hub.JoinRoom(conn, p.RoomID); err != nil {
		r.logger.Error("Join failed", slog.String("roomID", p.RoomID), slog.Any("error", err))
	}
}

func (r *EventRouter) handleLeaveRoom(conn *state.Connection, payload json.RawMessage) {
	var p protocol.LeaveRoomPayload
	if !r.decode(payload, &p, protocol.EventLeaveRoom) || p.RoomID == "" {
		return
	}
	if err := r.hub.LeaveRoom(conn, p.RoomID); err != nil {
		r.logger.Error("Leave failed", slog.String("roomID", p.RoomID), slog.Any("error", err))
	}
}

func (r *EventRouter) handleCursorMove(conn *state.Connection, payload json.RawMessage) {
	var p protocol.CursorMovePayload
	if !r.decode(payload, &p, protocol.EventCursorMove) || p.RoomID == "" {
		return
	}
	// The gate coalesces bursts: last value wins, intermediate positions
	// are dropped.
	r.gates.offer(conn.ID, p, func(latest protocol.CursorMovePayload) {
		r.hub.CursorMove(conn, latest.RoomID, latest.Position)
	})
}

func (r *EventRouter) handleTyping(conn *state.Connection, payload json.RawMessage) {
	var p protocol.TypingPayload
	if !r.decode(payload, &p, protocol.EventTyping) || p.RoomID == "" {
		return
	}
	r.hub.SetTyping(conn, p.RoomID, p.IsTyping)
}

func (r *EventRouter) handleContentChange(conn *state.Connection, payload json.RawMessage) {
	var p protocol.ContentChangePayload
	if !r.decode(payload, &p, protocol.EventContentChange) || p.RoomID == "" {
		return
	}
	r.hub.PublishContent(conn, p.RoomID, p.Content, p.Title)
}

func (r *EventRouter) handleRevokeAccess(conn *state.Connection, payload json.RawMessage) {
	var p protocol.RevocationPayload
	if !r.decode(payload, &p, protocol.EventRevokeAccess) || p.TargetUserID == "" {
		return
	}
	if p.RevokedBy == "" {
		p.RevokedBy = conn.User.ID
	}
	r.hub.NotifyBulk([]protocol.RevocationPayload{p})
}

func (r *EventRouter) handleRevokeAccessBulk(conn *state.Connection, payload json.RawMessage) {
	var p protocol.RevokeBulkPayload
	if !r.decode(payload, &p, protocol.EventRevokeAccessBulk) {
		return
	}
	for i := range p.Revocations {
		if p.Revocations[i].RevokedBy == "" {
			p.Revocations[i].RevokedBy = conn.User.ID
		}
	}
	r.hub.NotifyBulk(p.Revocations)
}

// handlePing feeds the liveness window. The read deadline was already
// pushed by the frame arriving; the pong is a courtesy for client RTT.
func (r *EventRouter) handlePing(conn *state.Connection) {
	msg, err := protocol.Encode(protocol.EventPong, struct{}{})
	if err != nil {
		return
	}
	conn.Transport.Send(msg)
}

func (r *EventRouter) decode(payload json.RawMessage, dst any, event string) bool {
	if err := json.Unmarshal(payload, dst); err != nil {
		r.logger.Warn("Malformed payload", slog.String("event", event), slog.Any("error", err))
		return false
	}
	return true
}
