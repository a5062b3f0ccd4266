/*
File: notificationservice/notificationservice.go
Description: The HTTP API service. End users reach tenant introspection
through authentication and the tenant switch. Backend callers reach the
emit endpoints with a service credential.
*/
package notificationservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/cors"

	"github.com/tinywideclouds/go-notification-service/internal/api"
	"github.com/tinywideclouds/go-notification-service/internal/response"
	"github.com/tinywideclouds/go-notification-service/notificationservice/config"
)

// Wrapper owns the API HTTP server.
type Wrapper struct {
	server     *http.Server
	apiHandler *api.API
	logger     *slog.Logger

	ready     atomic.Bool
	readyChan chan struct{}
	readyOnce sync.Once
	addr      atomic.Value
}

// New creates and wires up the API service. authMiddleware authenticates each
// end-user request; tenantMiddleware then applies the caller's tenant.
// serviceMiddleware guards the emit routes; when nil they are not mounted.
func New(
	cfg *config.AppConfig,
	notifier api.Notifier,
	authMiddleware func(http.Handler) http.Handler,
	tenantMiddleware func(http.Handler) http.Handler,
	serviceMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	if authMiddleware == nil || tenantMiddleware == nil {
		return nil, fmt.Errorf("auth and tenant middleware are required")
	}

	w := &Wrapper{
		apiHandler: api.NewAPI(notifier, logger.With("component", "API")),
		logger:     logger,
		readyChan:  make(chan struct{}),
	}

	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(tenantMiddleware(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", w.healthzHandler)
	mux.Handle("GET /api/tenant", protect(w.apiHandler.TenantHandler))

	if serviceMiddleware != nil {
		mux.Handle("POST /api/notifications/{userID}", serviceMiddleware(http.HandlerFunc(w.apiHandler.NotifyUserHandler)))
		mux.Handle("POST /api/refresh/{userID}", serviceMiddleware(http.HandlerFunc(w.apiHandler.RefreshHandler)))
		mux.Handle("POST /api/broadcast", serviceMiddleware(http.HandlerFunc(w.apiHandler.BroadcastHandler)))
	} else {
		logger.Info("No service credential configured, emit routes disabled")
	}

	var handler http.Handler = mux
	if len(cfg.AllowedOrigins) > 0 {
		// An empty origin list would make the library allow every origin.
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowCredentials: true,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
		}).Handler(mux)
	}

	w.server = &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: handler,
	}
	return w, nil
}

// Handler exposes the routed API for tests.
func (w *Wrapper) Handler() http.Handler { return w.server.Handler }

// Ready is closed once the listener is accepting connections.
func (w *Wrapper) Ready() <-chan struct{} { return w.readyChan }

// Addr is the bound listen address, valid after Ready is closed.
func (w *Wrapper) Addr() string {
	addr, _ := w.addr.Load().(string)
	return addr
}

// SetReady flips the /healthz readiness answer.
func (w *Wrapper) SetReady(ready bool) { w.ready.Store(ready) }

// Start listens and serves until Shutdown.
func (w *Wrapper) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("HTTP server failed to start: %w", err)
	}
	w.server.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }
	w.addr.Store(ln.Addr().String())

	w.logger.Info("HTTP listener is active.", "addr", ln.Addr().String())
	w.SetReady(true)
	w.readyOnce.Do(func() { close(w.readyChan) })

	if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, letting in-flight requests finish.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down API service...")
	w.SetReady(false)
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		return err
	}
	w.logger.Info("API service shut down.")
	return nil
}

func (w *Wrapper) healthzHandler(rw http.ResponseWriter, _ *http.Request) {
	if !w.ready.Load() {
		response.WriteJSONError(rw, http.StatusServiceUnavailable, "not ready")
		return
	}
	response.WriteJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}
