// Package tenancy resolves which isolated tenant namespace a user may see and
// scopes that decision to a single unit of work through the context.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// ErrTenantNotFound is returned when no tenant can be attributed to a user.
var ErrTenantNotFound = errors.New("tenant not found")

// DefaultPrefix is the naming convention for per-user tenant namespaces.
const DefaultPrefix = "client_"

// DefaultPublicTenant is the namespace used for unauthenticated traffic.
const DefaultPublicTenant notify.TenantID = "public"

var userPart = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Catalog enumerates tenant namespaces and answers membership questions.
type Catalog interface {
	// ListTenants returns every existing namespace, in a stable order.
	ListTenants(ctx context.Context) ([]notify.TenantID, error)
	// HasMember reports whether the namespace attributes ownership to userID.
	HasMember(ctx context.Context, tenant notify.TenantID, userID notify.UserID) (bool, error)
}

// Cache stores resolved tenants per user.
type Cache interface {
	Get(ctx context.Context, userID notify.UserID) (notify.TenantID, bool)
	Set(ctx context.Context, userID notify.UserID, tenant notify.TenantID)
	Delete(ctx context.Context, userID notify.UserID)
}

// Options tunes a Resolver.
type Options struct {
	// Prefix of every tenant namespace. Defaults to DefaultPrefix.
	Prefix string
	// PublicTenant is returned for unauthenticated callers.
	PublicTenant notify.TenantID
	// OptimisticFallback returns the deterministic candidate even when
	// neither enumeration nor the membership scan confirmed it.
	OptimisticFallback bool
}

// Resolver maps a UserID onto its tenant namespace.
type Resolver struct {
	catalog Catalog
	cache   Cache
	opts    Options
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// NewResolver creates a Resolver. cache may be nil to disable caching.
func NewResolver(catalog Catalog, cache Cache, opts Options, logger *slog.Logger) (*Resolver, error) {
	if catalog == nil {
		return nil, fmt.Errorf("tenant catalog cannot be nil")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.PublicTenant == "" {
		opts.PublicTenant = DefaultPublicTenant
	}
	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(opts.Prefix) + "[A-Za-z0-9]+$")
	if err != nil {
		return nil, fmt.Errorf("invalid tenant prefix %q: %w", opts.Prefix, err)
	}
	return &Resolver{
		catalog: catalog,
		cache:   cache,
		opts:    opts,
		pattern: pattern,
		logger:  logger.With("component", "tenant_resolver"),
	}, nil
}

// PublicTenant returns the namespace used when no user tenant applies.
func (r *Resolver) PublicTenant() notify.TenantID {
	return r.opts.PublicTenant
}

// Candidate computes the deterministic tenant name for a user. The second
// result is false when the user id cannot form a valid namespace name.
func (r *Resolver) Candidate(userID notify.UserID) (notify.TenantID, bool) {
	if !userPart.MatchString(string(userID)) {
		return "", false
	}
	return notify.TenantID(r.opts.Prefix + string(userID)), true
}

// Matches reports whether name follows the tenant naming pattern.
func (r *Resolver) Matches(name string) bool {
	return r.pattern.MatchString(name)
}

// Resolve returns the tenant for userID. An empty userID is an
// unauthenticated caller and always gets the public tenant.
func (r *Resolver) Resolve(ctx context.Context, userID notify.UserID) (notify.TenantID, error) {
	if userID == "" {
		return r.opts.PublicTenant, nil
	}
	if r.cache != nil {
		if tenant, ok := r.cache.Get(ctx, userID); ok {
			return tenant, nil
		}
	}

	tenant, confirmed, err := r.resolve(ctx, userID)
	if err != nil {
		return "", err
	}
	if confirmed && r.cache != nil {
		r.cache.Set(ctx, userID, tenant)
	}
	return tenant, nil
}

// Forget drops any cached resolution for userID.
func (r *Resolver) Forget(ctx context.Context, userID notify.UserID) {
	if r.cache != nil {
		r.cache.Delete(ctx, userID)
	}
}

func (r *Resolver) resolve(ctx context.Context, userID notify.UserID) (notify.TenantID, bool, error) {
	log := r.logger.With("user", userID.String())

	candidate, valid := r.Candidate(userID)

	tenants, listErr := r.listTenants(ctx)
	if listErr != nil {
		log.Warn("Failed to enumerate tenant namespaces", "err", listErr)
	}

	if valid {
		for _, t := range tenants {
			if t == candidate {
				log.Debug("Resolved tenant by naming convention", "tenant", candidate)
				return candidate, true, nil
			}
		}
	}

	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		ok, err := r.catalog.HasMember(ctx, t, userID)
		if err != nil {
			log.Warn("Skipping tenant namespace after membership check failed", "tenant", t, "err", err)
			continue
		}
		if ok {
			log.Debug("Resolved tenant by membership scan", "tenant", t)
			return t, true, nil
		}
	}

	if valid && r.opts.OptimisticFallback {
		log.Warn("Tenant not confirmed, using naming convention candidate", "tenant", candidate)
		return candidate, false, nil
	}
	if listErr != nil {
		return "", false, fmt.Errorf("%w for user %s: %w", ErrTenantNotFound, userID, listErr)
	}
	return "", false, fmt.Errorf("%w for user %s", ErrTenantNotFound, userID)
}

// listTenants filters the catalog down to names that follow the pattern.
func (r *Resolver) listTenants(ctx context.Context) ([]notify.TenantID, error) {
	all, err := r.catalog.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	tenants := make([]notify.TenantID, 0, len(all))
	for _, t := range all {
		if r.Matches(string(t)) {
			tenants = append(tenants, t)
		}
	}
	return tenants, nil
}
