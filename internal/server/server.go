package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/notewave/collabd/internal/hub"
	"github.com/notewave/collabd/internal/router"
	"github.com/notewave/collabd/internal/server/middleware"
	"github.com/notewave/collabd/internal/store"
	"github.com/notewave/collabd/pkg/config"
	"github.com/notewave/collabd/pkg/state"
	"github.com/notewave/collabd/pkg/state/statemanager"
	"github.com/notewave/collabd/pkg/transport"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	hub          *hub.Hub
	eventRouter  *router.EventRouter
	store        store.Store
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, docStore store.Store) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	sessionHub := hub.New(logger, stateManager, cfg.Collab)
	gates := router.NewCursorGates(cfg.Collab.CursorMinInterval)
	eventRouter := router.NewEventRouter(logger, sessionHub, stateManager, gates)

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		hub:          sessionHub,
		eventRouter:  eventRouter,
		store:        docStore,
		config:       cfg,
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	connCounter := middleware.UserConnectionCounter(stateManager.GetUserConnectionCount)
	// Create a cycler function that closes over the stateManager and logger.
	connCycler := func(userID string) {
		oldest, found := stateManager.FindOldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", "userID", userID, "connID", oldest.ID)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, app.config.Server.Auth.JWTSecret),
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)
	app.registerDocumentRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Hub exposes the session hub, mainly for tests.
func (a *App) Hub() *hub.Hub { return a.hub }

func (a *App) Run() error {
	a.hub.Start(a.ctx)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{HeartbeatWindow: a.config.Transport.HeartbeatWindow},
		nil,
		nil,
		a.logger,
	)
	// register the connection, link its user, auto-join the personal room.
	if _, err := a.hub.HandleConnect(conn, reqMeta.IP, reqMeta.UserID, reqMeta.UserName); err != nil {
		connLogger.Error("Failed to establish session", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Cleaning up connection due to closure", slog.String("connID", id.String()))
		a.eventRouter.ForgetConnection(id)
		a.hub.HandleDisconnect(id)
	})

	connLogger.Info("User connection fully established", slog.String("userID", reqMeta.UserID))
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, sender := range a.stateManager.AllSenders() {
		sender.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
