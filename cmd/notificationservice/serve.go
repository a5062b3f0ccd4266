package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-notification-service/internal/app"
	"github.com/tinywideclouds/go-notification-service/internal/auth"
	"github.com/tinywideclouds/go-notification-service/internal/platform/sqlite"
	"github.com/tinywideclouds/go-notification-service/internal/realtime"
	"github.com/tinywideclouds/go-notification-service/internal/tenancy"
	"github.com/tinywideclouds/go-notification-service/notificationservice"
	"github.com/tinywideclouds/go-notification-service/notificationservice/config"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API and WebSocket servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	logger = newLogger(cfg.RunMode)
	slog.SetDefault(logger)

	tenants, err := newTenantResolver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer tenants.Close()

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("failed to create credential verifier: %w", err)
	}
	authMiddleware := auth.Middleware(verifier, cfg.Auth.VerifyTimeout, logger)
	serviceMiddleware, err := newServiceMiddleware(cfg, verifier, logger)
	if err != nil {
		return err
	}
	tenantSwitch := tenancy.NewSwitch(tenants.resolver, logger)

	rtLogger := newRealtimeLogger(cfg.RunMode)
	dispatcher := realtime.NewDispatcher(realtime.NewRegistry(rtLogger), rtLogger)

	connManager, err := realtime.NewConnectionManager(
		realtime.ManagerConfig{
			Addr:             ":" + cfg.WebSocketPort,
			Path:             cfg.WebSocket.Path,
			HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
			AllowedOrigins:   cfg.AllowedOrigins,
			Connection: realtime.ConnectionOptions{
				SendBuffer:   cfg.WebSocket.SendBuffer,
				WriteTimeout: cfg.WebSocket.WriteTimeout,
				PingPeriod:   cfg.WebSocket.PingPeriod,
			},
		},
		authMiddleware,
		tenantSwitch,
		dispatcher,
		rtLogger,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	apiService, err := notificationservice.New(
		cfg,
		dispatcher,
		authMiddleware,
		tenantSwitch.Middleware(auth.UserIDFromContext),
		serviceMiddleware,
		logger.With("component", "ApiService"),
	)
	if err != nil {
		return fmt.Errorf("failed to create API service: %w", err)
	}

	app.Run(ctx, logger, apiService, connManager)
	return nil
}

// newServiceMiddleware guards the emit routes with the service credential.
// It returns nil, leaving the routes unmounted, when no service secret is set.
func newServiceMiddleware(cfg *config.AppConfig, users auth.Verifier, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Auth.ServiceSecret == "" {
		return nil, nil
	}
	service, err := auth.NewServiceVerifier(cfg.Auth.ServiceSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create service credential verifier: %w", err)
	}
	return auth.ServiceMiddleware(service, users, cfg.Auth.VerifyTimeout, logger), nil
}

// tenantStack bundles the resolver with the resources it holds open.
type tenantStack struct {
	catalog  *sqlite.Catalog
	resolver *tenancy.Resolver
	redis    *redis.Client
	logger   *slog.Logger
}

// newTenantResolver opens the tenant catalog and the configured resolution cache.
func newTenantResolver(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*tenantStack, error) {
	catalog, err := sqlite.Open(cfg.Tenancy.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant catalog: %w", err)
	}
	stack := &tenantStack{catalog: catalog, logger: logger}

	var cache tenancy.Cache
	switch cfg.Tenancy.CacheType {
	case config.CacheRedis:
		logger.Info("Initializing tenant cache...", "type", "redis", "addr", cfg.Tenancy.RedisAddr)
		stack.redis = redis.NewClient(&redis.Options{Addr: cfg.Tenancy.RedisAddr})
		if err := stack.redis.Ping(ctx).Err(); err != nil {
			stack.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisCache, err := tenancy.NewRedisCache(stack.redis, cfg.Tenancy.CacheTTL, logger)
		if err != nil {
			stack.Close()
			return nil, err
		}
		cache = redisCache
	default:
		logger.Info("Initializing tenant cache...", "type", "memory")
		cache = tenancy.NewMemoryCache(cfg.Tenancy.CacheSize, cfg.Tenancy.CacheTTL)
	}

	stack.resolver, err = tenancy.NewResolver(catalog, cache, tenancy.Options{
		Prefix:             cfg.Tenancy.Prefix,
		PublicTenant:       notify.TenantID(cfg.Tenancy.PublicTenant),
		OptimisticFallback: cfg.Tenancy.OptimisticFallback,
	}, logger)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to create tenant resolver: %w", err)
	}
	return stack, nil
}

// invalidate drops userID's cached resolution where running servers would see
// it. A memory cache belongs to this process only, so there is nothing to do.
func (s *tenantStack) invalidate(ctx context.Context, userID notify.UserID) bool {
	if s.redis == nil {
		s.logger.Info("Tenant cache is process-local, servers keep their resolution until it expires", "user", userID.String())
		return false
	}
	s.resolver.Forget(ctx, userID)
	return true
}

func (s *tenantStack) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Failed to close redis client", "err", err)
		}
	}
	if err := s.catalog.Close(); err != nil {
		s.logger.Warn("Failed to close tenant catalog", "err", err)
	}
}
