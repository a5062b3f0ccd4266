package realtime

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// Registry maps each user to the set of their live connections.
type Registry struct {
	mu     sync.RWMutex
	users  map[notify.UserID][]*Connection
	logger zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		users:  make(map[notify.UserID][]*Connection),
		logger: logger.With().Str("component", "Registry").Logger(),
	}
}

// Register appends conn to userID's collection and arranges for it to be
// removed as soon as it closes.
func (r *Registry) Register(userID notify.UserID, conn *Connection) error {
	if conn.UserID() != userID {
		return fmt.Errorf("connection %s belongs to user %s, not %s", conn.ID(), conn.UserID(), userID)
	}

	r.mu.Lock()
	for _, existing := range r.users[userID] {
		if existing == conn {
			r.mu.Unlock()
			return nil
		}
	}
	r.users[userID] = append(r.users[userID], conn)
	count := len(r.users[userID])
	r.mu.Unlock()

	if !conn.OnClose(func(c *Connection) { r.Unregister(userID, c) }) {
		r.Unregister(userID, conn)
		return ErrConnectionClosed
	}

	r.logger.Debug().Str("user", userID.String()).Str("conn", conn.ID()).Int("connections", count).Msg("Connection registered.")
	return nil
}

// Unregister removes conn from userID's collection. It reports whether conn was present.
func (r *Registry) Unregister(userID notify.UserID, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.users[userID]
	for i, existing := range conns {
		if existing != conn {
			continue
		}
		remaining := append(conns[:i:i], conns[i+1:]...)
		if len(remaining) == 0 {
			delete(r.users, userID)
		} else {
			r.users[userID] = remaining
		}
		r.logger.Debug().Str("user", userID.String()).Str("conn", conn.ID()).Int("connections", len(remaining)).Msg("Connection unregistered.")
		return true
	}
	return false
}

// Connections returns a snapshot of userID's live connections, oldest first.
func (r *Registry) Connections(userID notify.UserID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Connection, len(conns))
	copy(out, conns)
	return out
}

// Users returns every user with at least one connection.
func (r *Registry) Users() []notify.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]notify.UserID, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	return users
}

// ConnectionCount returns the total number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.users {
		n += len(conns)
	}
	return n
}

// CloseAll closes every registered connection with code and text.
// Close observers empty the registry as a side effect.
func (r *Registry) CloseAll(code int, text string) int {
	r.mu.RLock()
	var all []*Connection
	for _, conns := range r.users {
		all = append(all, conns...)
	}
	r.mu.RUnlock()

	for _, c := range all {
		c.CloseWithReason(code, text)
	}
	return len(all)
}
