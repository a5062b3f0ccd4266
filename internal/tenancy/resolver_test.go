package tenancy_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-notification-service/internal/tenancy"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockCatalog struct{ mock.Mock }

func (m *mockCatalog) ListTenants(ctx context.Context) ([]notify.TenantID, error) {
	args := m.Called(ctx)
	var result []notify.TenantID
	if val, ok := args.Get(0).([]notify.TenantID); ok {
		result = val
	}
	return result, args.Error(1)
}

func (m *mockCatalog) HasMember(ctx context.Context, tenant notify.TenantID, userID notify.UserID) (bool, error) {
	args := m.Called(ctx, tenant, userID)
	return args.Bool(0), args.Error(1)
}

func newResolver(t *testing.T, catalog tenancy.Catalog, cache tenancy.Cache, opts tenancy.Options) *tenancy.Resolver {
	t.Helper()
	r, err := tenancy.NewResolver(catalog, cache, opts, testLogger)
	require.NoError(t, err)
	return r
}

func TestResolver_Unauthenticated(t *testing.T) {
	catalog := new(mockCatalog)
	r := newResolver(t, catalog, nil, tenancy.Options{})

	tenant, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, tenancy.DefaultPublicTenant, tenant)
	catalog.AssertNotCalled(t, "ListTenants", mock.Anything)
	catalog.AssertNotCalled(t, "HasMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_NamingConvention(t *testing.T) {
	catalog := new(mockCatalog)
	catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{"client_3", "client_7"}, nil)
	r := newResolver(t, catalog, nil, tenancy.Options{})

	tenant, err := r.Resolve(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, notify.TenantID("client_7"), tenant)
	catalog.AssertNotCalled(t, "HasMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_MembershipScan(t *testing.T) {
	catalog := new(mockCatalog)
	catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{"client_1", "client_3"}, nil)
	catalog.On("HasMember", mock.Anything, notify.TenantID("client_1"), notify.UserID("9")).Return(false, nil)
	catalog.On("HasMember", mock.Anything, notify.TenantID("client_3"), notify.UserID("9")).Return(true, nil)
	r := newResolver(t, catalog, nil, tenancy.Options{})

	tenant, err := r.Resolve(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, notify.TenantID("client_3"), tenant)
}

func TestResolver_ScanSkipsFailingNamespace(t *testing.T) {
	catalog := new(mockCatalog)
	catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{"client_1", "client_3"}, nil)
	catalog.On("HasMember", mock.Anything, notify.TenantID("client_1"), notify.UserID("9")).Return(false, errors.New("database is locked"))
	catalog.On("HasMember", mock.Anything, notify.TenantID("client_3"), notify.UserID("9")).Return(true, nil)
	r := newResolver(t, catalog, nil, tenancy.Options{})

	tenant, err := r.Resolve(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, notify.TenantID("client_3"), tenant)
	catalog.AssertNumberOfCalls(t, "HasMember", 2)
}

func TestResolver_IgnoresNamesOutsidePattern(t *testing.T) {
	catalog := new(mockCatalog)
	catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{"main", "client_", "other_9", "client_2"}, nil)
	catalog.On("HasMember", mock.Anything, notify.TenantID("client_2"), notify.UserID("9")).Return(false, nil)
	r := newResolver(t, catalog, nil, tenancy.Options{})

	_, err := r.Resolve(context.Background(), "9")
	require.ErrorIs(t, err, tenancy.ErrTenantNotFound)
	catalog.AssertNumberOfCalls(t, "HasMember", 1)
}

func TestResolver_NotFound(t *testing.T) {
	testCases := []struct {
		name   string
		userID notify.UserID
	}{
		{name: "valid candidate, fail closed", userID: "11"},
		{name: "invalid candidate", userID: "user-with-dash"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			catalog := new(mockCatalog)
			catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{"client_1"}, nil)
			catalog.On("HasMember", mock.Anything, notify.TenantID("client_1"), tc.userID).Return(false, nil)
			r := newResolver(t, catalog, nil, tenancy.Options{})

			tenant, err := r.Resolve(context.Background(), tc.userID)
			assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
			assert.Empty(t, tenant)
		})
	}
}

func TestResolver_OptimisticFallback(t *testing.T) {
	t.Run("unconfirmed candidate is returned", func(t *testing.T) {
		catalog := new(mockCatalog)
		catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{"client_1"}, nil)
		catalog.On("HasMember", mock.Anything, notify.TenantID("client_1"), notify.UserID("11")).Return(false, nil)
		r := newResolver(t, catalog, nil, tenancy.Options{OptimisticFallback: true})

		tenant, err := r.Resolve(context.Background(), "11")
		require.NoError(t, err)
		assert.Equal(t, notify.TenantID("client_11"), tenant)
	})

	t.Run("listing failure still yields candidate", func(t *testing.T) {
		catalog := new(mockCatalog)
		catalog.On("ListTenants", mock.Anything).Return(nil, errors.New("permission denied"))
		r := newResolver(t, catalog, nil, tenancy.Options{OptimisticFallback: true})

		tenant, err := r.Resolve(context.Background(), "11")
		require.NoError(t, err)
		assert.Equal(t, notify.TenantID("client_11"), tenant)
	})

	t.Run("invalid candidate is never returned", func(t *testing.T) {
		catalog := new(mockCatalog)
		catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{}, nil)
		r := newResolver(t, catalog, nil, tenancy.Options{OptimisticFallback: true})

		_, err := r.Resolve(context.Background(), "../etc")
		assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
	})

	t.Run("unconfirmed candidate is not cached", func(t *testing.T) {
		catalog := new(mockCatalog)
		catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{}, nil)
		cache := tenancy.NewMemoryCache(0, 0)
		r := newResolver(t, catalog, cache, tenancy.Options{OptimisticFallback: true})

		_, err := r.Resolve(context.Background(), "11")
		require.NoError(t, err)
		_, ok := cache.Get(context.Background(), "11")
		assert.False(t, ok)
	})
}

func TestResolver_ListingFailureFailsClosed(t *testing.T) {
	catalog := new(mockCatalog)
	catalog.On("ListTenants", mock.Anything).Return(nil, errors.New("permission denied"))
	r := newResolver(t, catalog, nil, tenancy.Options{})

	_, err := r.Resolve(context.Background(), "11")
	assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
	assert.ErrorContains(t, err, "permission denied")
}

func TestResolver_DeterministicAndCached(t *testing.T) {
	catalog := new(mockCatalog)
	catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{"client_3"}, nil).Once()
	catalog.On("HasMember", mock.Anything, notify.TenantID("client_3"), notify.UserID("9")).Return(true, nil).Once()
	cache := tenancy.NewMemoryCache(0, 0)
	r := newResolver(t, catalog, cache, tenancy.Options{})

	first, err := r.Resolve(context.Background(), "9")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "9")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	catalog.AssertNumberOfCalls(t, "ListTenants", 1)

	r.Forget(context.Background(), "9")
	_, ok := cache.Get(context.Background(), "9")
	assert.False(t, ok)
}

func TestResolver_CustomPrefix(t *testing.T) {
	catalog := new(mockCatalog)
	catalog.On("ListTenants", mock.Anything).Return([]notify.TenantID{"client_7", "org_7"}, nil)
	r := newResolver(t, catalog, nil, tenancy.Options{Prefix: "org_", PublicTenant: "shared"})

	tenant, err := r.Resolve(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, notify.TenantID("org_7"), tenant)
	assert.Equal(t, notify.TenantID("shared"), r.PublicTenant())
	assert.True(t, r.Matches("org_12"))
	assert.False(t, r.Matches("client_12"))
}

func TestNewResolver_NilCatalog(t *testing.T) {
	_, err := tenancy.NewResolver(nil, nil, tenancy.Options{}, testLogger)
	assert.Error(t, err)
}
