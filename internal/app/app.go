// Package app runs the notification service's servers together and stops
// them together.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownTimeout bounds the graceful shutdown of all services.
const ShutdownTimeout = 15 * time.Second

// Service is a long-running component with a graceful stop.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type namedService struct {
	name string
	svc  Service
}

// Run starts the API service and the WebSocket connection manager and blocks
// until SIGINT or SIGTERM arrives, ctx is cancelled, or either service stops
// with an error. Services are then stopped in order: the API first, so no
// emit lands while the connection manager is closing live connections.
func Run(
	ctx context.Context,
	logger *slog.Logger,
	apiService Service,
	connManager Service,
) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services := []namedService{
		{name: "API Service", svc: apiService},
		{name: "Connection Manager", svc: connManager},
	}

	var wg sync.WaitGroup
	for _, s := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Starting service...", "service", s.name)
			if err := s.svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Service stopped unexpectedly", "service", s.name, "err", err)
				// One server down takes the process down.
				cancel()
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		logger.Info("Received shutdown signal.", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown.")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer stopCancel()

	for _, s := range services {
		logger.Info("Stopping service...", "service", s.name)
		if err := s.svc.Shutdown(stopCtx); err != nil {
			logger.Error("Service shutdown failed.", "service", s.name, "err", err)
		}
	}

	wg.Wait()
	logger.Info("All services shut down gracefully.")
}
