package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

type tenantKeyType struct{}

var tenantCtxKey tenantKeyType

// ContextWithTenant scopes tenant to ctx and everything derived from it.
func ContextWithTenant(ctx context.Context, tenant notify.TenantID) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tenant)
}

// TenantFromContext returns the tenant applied to ctx, if any.
func TenantFromContext(ctx context.Context) (notify.TenantID, bool) {
	tenant, ok := ctx.Value(tenantCtxKey).(notify.TenantID)
	return tenant, ok && tenant != ""
}

// TenantResolver is the dependency of a Switch.
type TenantResolver interface {
	Resolve(ctx context.Context, userID notify.UserID) (notify.TenantID, error)
	PublicTenant() notify.TenantID
}

// Switch applies the caller's tenant to a single unit of work.
type Switch struct {
	resolver TenantResolver
	logger   *slog.Logger
}

// NewSwitch creates a Switch over resolver.
func NewSwitch(resolver TenantResolver, logger *slog.Logger) *Switch {
	return &Switch{
		resolver: resolver,
		logger:   logger.With("component", "tenant_switch"),
	}
}

// Apply resolves the tenant for userID and returns a child context carrying it.
// Unauthenticated callers (empty userID) and failed resolutions get the
// public tenant, never another user's.
func (s *Switch) Apply(ctx context.Context, userID notify.UserID) context.Context {
	public := s.resolver.PublicTenant()
	if userID == "" {
		return ContextWithTenant(ctx, public)
	}
	tenant, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			s.logger.Warn("No tenant for authenticated user, using public tenant", "user", userID.String(), "err", err)
		} else {
			s.logger.Warn("Tenant resolution failed, using public tenant", "user", userID.String(), "err", err)
		}
		return ContextWithTenant(ctx, public)
	}
	return ContextWithTenant(ctx, tenant)
}

// Middleware applies the tenant of the request's user before next runs.
// identify extracts the authenticated user from the request context.
func (s *Switch) Middleware(identify func(context.Context) (notify.UserID, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := identify(r.Context())
			next.ServeHTTP(w, r.WithContext(s.Apply(r.Context(), userID)))
		})
	}
}
