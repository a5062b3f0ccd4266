package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/internal/auth"
	"github.com/tinywideclouds/go-notification-service/internal/tenancy"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// DefaultPath is the upgrade endpoint.
const DefaultPath = "/api/ws/notifications"

const maxInboundMessage = 4096

// TenantScope applies the caller's tenant to a unit of work.
type TenantScope interface {
	Apply(ctx context.Context, userID notify.UserID) context.Context
}

// ManagerConfig configures a ConnectionManager.
type ManagerConfig struct {
	// Addr is the listen address, e.g. ":8081".
	Addr string
	// Path is the upgrade endpoint. Defaults to DefaultPath.
	Path string
	// HandshakeTimeout bounds reading the upgrade request and completing the upgrade.
	HandshakeTimeout time.Duration
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
	Connection     ConnectionOptions
}

// ConnectionManager runs the WebSocket endpoint: it admits authenticated
// upgrades into the Registry and owns each connection's read loop.
// It runs its own dedicated HTTP server.
type ConnectionManager struct {
	server     *http.Server
	upgrader   websocket.Upgrader
	dispatcher *Dispatcher
	tenants    TenantScope
	cfg        ManagerConfig
	logger     zerolog.Logger
	instanceID string
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
// authMiddleware rejects unauthenticated upgrades before they reach the handler.
func NewConnectionManager(
	cfg ManagerConfig,
	authMiddleware func(http.Handler) http.Handler,
	tenants TenantScope,
	dispatcher *Dispatcher,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant scope cannot be nil")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = auth.DefaultTimeout
	}
	cfg.Connection = cfg.Connection.withDefaults()

	instanceID := uuid.NewString()
	cmLogger := logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger()

	cm := &ConnectionManager{
		dispatcher: dispatcher,
		tenants:    tenants,
		cfg:        cfg,
		logger:     cmLogger,
		instanceID: instanceID,
	}
	cm.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      cm.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+cfg.Path, authMiddleware(http.HandlerFunc(cm.connectHandler)))
	cm.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HandshakeTimeout,
	}

	return cm, nil
}

// Handler exposes the endpoint for embedding and tests.
func (cm *ConnectionManager) Handler() http.Handler { return cm.server.Handler }

// Start runs the HTTP server for WebSocket connections.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	cm.server.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }
	cm.logger.Info().Str("addr", cm.server.Addr).Str("path", cm.cfg.Path).Msg("WebSocket server starting...")
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting upgrades and closes every live connection.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")
	var finalErr error

	// Hijacked connections are not tracked by the server, so close them first.
	cm.dispatcher.CloseAllConnections()

	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		finalErr = err
	}

	cm.logger.Info().Msg("WebSocket service shut down.")
	return finalErr
}

// connectHandler upgrades an authenticated request and manages its lifecycle.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID := identity.UserID

	tenant, _ := tenancy.TenantFromContext(cm.tenants.Apply(r.Context(), userID))

	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Warn().Err(err).Str("user", userID.String()).Msg("Failed to upgrade connection.")
		return
	}

	conn := NewConnection(userID, tenant, ws, cm.cfg.Connection, cm.logger)
	if err := cm.dispatcher.Admit(userID, conn); err != nil {
		cm.logger.Warn().Err(err).Str("user", userID.String()).Msg("Failed to admit connection.")
		conn.fail(err)
		return
	}
	defer conn.Close()

	cm.logger.Info().Str("user", userID.String()).Str("conn", conn.ID()).Str("tenant", tenant.String()).Msg("User connected via WebSocket.")

	cm.readLoop(ws, conn)

	cm.logger.Info().Str("user", userID.String()).Str("conn", conn.ID()).Msg("User disconnected.")
}

// readLoop blocks until the client goes away. Inbound frames are discarded;
// reading drives pong handling and close detection.
func (cm *ConnectionManager) readLoop(ws *websocket.Conn, conn *Connection) {
	ws.SetReadLimit(maxInboundMessage)
	if period := cm.cfg.Connection.PingPeriod; period > 0 {
		pongWait := 2 * period
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && conn.Ready() {
				cm.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("Connection closed unexpectedly.")
			}
			conn.fail(err)
			return
		}
	}
}

func (cm *ConnectionManager) checkOrigin(r *http.Request) bool {
	if len(cm.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range cm.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	cm.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection from origin.")
	return false
}
