package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connId uuid.UUID, msg []byte)

type OnCloseHandler func(connId uuid.UUID, err error)

type ConnectionConfig struct {
	// HeartbeatWindow is the read deadline. A connection that produces no
	// frames for this long is treated as dead and force-closed.
	HeartbeatWindow time.Duration
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	// Balanced by Close, which may run before Run if session setup fails.
	wg.Add(1)

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, 256), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
// The per-read deadline is the liveness window: a client that goes silent past
// it fails the read and the connection is torn down as a disconnect.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.HeartbeatWindow)
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			readErr = err
			cancelRead()
			return
		}
		// Ensure we are only handling text or binary messages.
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			c.logger.Error("Connection readpump failed", slog.Any("error", err))
			readErr = err
			return
		}
		// Pass a connection-scoped context to the handler.
		c.onMessage(c.ctx, c.id, message)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
// It exits on context cancellation only; the send channel is never closed, so
// a fan-out goroutine racing Close can never hit a closed channel.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "request cancelled")
			return
		}
	}
}

// Send queues a message for delivery. It never blocks and never panics: a
// full buffer or a closed connection drops the message and logs, so a slow
// or departing receiver cannot stall or crash the broadcasting goroutine.
func (c *Connection) Send(message []byte) {
	select {
	case <-c.ctx.Done():
		c.logger.Warn("Attempted to send on a closed connection")
		return
	default:
	}
	select {
	case c.send <- message:
	case <-c.ctx.Done():
		c.logger.Warn("Attempted to send on a closed connection")
	default:
		c.logger.Warn("Send buffer full, dropping message")
	}
}

// gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel() // Signal goroutines to stop.
		c.conn.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}
func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
