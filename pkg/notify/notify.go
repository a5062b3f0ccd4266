// Package notify contains the public domain types and interfaces of the
// notification service. It defines the contract used by the rest of the
// application to push realtime events to connected users.
package notify

import "context"

// UserID is the opaque, stable identifier of an authenticated principal.
type UserID string

// String implements fmt.Stringer.
func (u UserID) String() string { return string(u) }

// TenantID names an isolated logical dataset (one tenant namespace).
type TenantID string

// String implements fmt.Stringer.
func (t TenantID) String() string { return string(t) }

// Identity is the result of a successful credential verification.
type Identity struct {
	UserID UserID `json:"userId"`
	Email  string `json:"email,omitempty"`
	// Role is empty for end users. Backend callers carry a non-empty role.
	Role string `json:"role,omitempty"`
}

// Kind tags the type of a server-to-client message.
type Kind string

const (
	KindConnectionStatus Kind = "connection_status"
	KindNotification     Kind = "notification"
	KindRefresh          Kind = "refresh"
)

// Event is an application-defined payload plus its kind tag.
// Events are values; callers must not mutate Payload after handing it over.
type Event struct {
	Kind    Kind
	Payload any
}

// NewNotification wraps a business payload as a notification event.
func NewNotification(payload any) Event {
	return Event{Kind: KindNotification, Payload: payload}
}

// NewRefresh returns the payload-less cache invalidation hint.
func NewRefresh() Event {
	return Event{Kind: KindRefresh}
}

// Emitter is the narrow interface the rest of the system uses to push events.
type Emitter interface {
	// Emit delivers the event to every live connection of the user.
	// It reports whether at least one connection accepted the event.
	Emit(ctx context.Context, userID UserID, event Event) bool
}
