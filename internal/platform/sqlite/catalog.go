// Package sqlite implements the tenant catalog on SQLite, one database file
// per tenant namespace.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

const fileSuffix = ".db"

// schema is applied to every tenant database on creation.
const schema = `
CREATE TABLE IF NOT EXISTS tenant_members (
    user_id TEXT PRIMARY KEY,
    role TEXT NOT NULL DEFAULT 'member',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

var namespaceName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ErrInvalidNamespace is returned for names that cannot be used as a namespace.
var ErrInvalidNamespace = errors.New("invalid tenant namespace")

// Catalog stores each tenant in <dir>/<tenant>.db and keeps one handle per
// opened tenant.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	dbs map[notify.TenantID]*sql.DB
}

// Open creates the data directory if needed and returns a Catalog over it.
func Open(dir string, logger *slog.Logger) (*Catalog, error) {
	if dir == "" {
		return nil, fmt.Errorf("tenant data directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create tenant data directory: %w", err)
	}
	return &Catalog{
		dir:    dir,
		logger: logger.With("component", "sqlite_catalog"),
		dbs:    make(map[notify.TenantID]*sql.DB),
	}, nil
}

// ListTenants returns every tenant database in the data directory, sorted by name.
func (c *Catalog) ListTenants(_ context.Context) ([]notify.TenantID, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant data directory: %w", err)
	}
	var tenants []notify.TenantID
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), fileSuffix)
		if !namespaceName.MatchString(name) {
			continue
		}
		tenants = append(tenants, notify.TenantID(name))
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i] < tenants[j] })
	return tenants, nil
}

// HasMember reports whether tenant has a membership row for userID.
func (c *Catalog) HasMember(ctx context.Context, tenant notify.TenantID, userID notify.UserID) (bool, error) {
	db, err := c.DB(tenant)
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, "SELECT 1 FROM tenant_members WHERE user_id = ? LIMIT 1", string(userID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("membership query on %s failed: %w", tenant, err)
	}
	return true, nil
}

// CreateTenant provisions a tenant namespace and records owner as its first member.
// It is idempotent.
func (c *Catalog) CreateTenant(ctx context.Context, tenant notify.TenantID, owner notify.UserID) error {
	db, err := c.open(tenant, true)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply tenant schema to %s: %w", tenant, err)
	}
	c.logger.Info("Tenant namespace ready", "tenant", tenant.String())
	if owner == "" {
		return nil
	}
	return c.addMember(ctx, db, tenant, owner, "owner")
}

// AddMember attributes tenant membership to userID.
func (c *Catalog) AddMember(ctx context.Context, tenant notify.TenantID, userID notify.UserID) error {
	db, err := c.DB(tenant)
	if err != nil {
		return err
	}
	return c.addMember(ctx, db, tenant, userID, "member")
}

func (c *Catalog) addMember(ctx context.Context, db *sql.DB, tenant notify.TenantID, userID notify.UserID, role string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO tenant_members (user_id, role) VALUES (?, ?) ON CONFLICT(user_id) DO UPDATE SET role = excluded.role",
		string(userID), role)
	if err != nil {
		return fmt.Errorf("failed to add member %s to %s: %w", userID, tenant, err)
	}
	return nil
}

// DB returns the handle of an existing tenant database.
func (c *Catalog) DB(tenant notify.TenantID) (*sql.DB, error) {
	return c.open(tenant, false)
}

func (c *Catalog) open(tenant notify.TenantID, create bool) (*sql.DB, error) {
	if !namespaceName.MatchString(string(tenant)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNamespace, tenant)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.dbs[tenant]; ok {
		return db, nil
	}

	path := filepath.Join(c.dir, string(tenant)+fileSuffix)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("tenant %s unavailable: %w", tenant, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant %s: %w", tenant, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to tenant %s: %w", tenant, err)
	}
	db.SetMaxOpenConns(1)
	c.dbs[tenant] = db
	return db, nil
}

// Close closes every opened tenant database.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for tenant, db := range c.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", tenant, err))
		}
		delete(c.dbs, tenant)
	}
	return errors.Join(errs...)
}
