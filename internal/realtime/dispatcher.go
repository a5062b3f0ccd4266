package realtime

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// ConnectedText accompanies the connection_status frame sent on admission.
const ConnectedText = "Notification channel established"

// Dispatcher is the API the rest of the system uses to push events.
// Delivery is best effort: offline users simply miss the event.
type Dispatcher struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher over registry.
func NewDispatcher(registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger.With().Str("component", "Dispatcher").Logger(),
	}
}

// Registry returns the registry the dispatcher delivers through.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Admit registers conn for userID and confirms the handshake to that
// connection only, ahead of any business event.
func (d *Dispatcher) Admit(userID notify.UserID, conn *Connection) error {
	frame, err := notify.Encode(notify.Event{Kind: notify.KindConnectionStatus, Payload: ConnectedText})
	if err != nil {
		return err
	}
	// Queue the confirmation before the connection becomes visible to fan-out.
	if err := conn.Enqueue(frame); err != nil {
		return err
	}
	return d.registry.Register(userID, conn)
}

// SendToUser delivers notification to every ready connection of userID.
// It returns false if the user has no ready connection.
func (d *Dispatcher) SendToUser(userID notify.UserID, notification any) bool {
	return d.deliver(userID, notify.NewNotification(notification))
}

// SendRefreshCommand tells every connection of userID to re-fetch its data.
func (d *Dispatcher) SendRefreshCommand(userID notify.UserID) bool {
	return d.deliver(userID, notify.NewRefresh())
}

// BroadcastNotification sends notification to every connected user and
// returns how many users accepted it.
func (d *Dispatcher) BroadcastNotification(notification any) int {
	return d.BroadcastToAll(notify.NewNotification(notification))
}

// BroadcastToAll sends event to every connected user.
func (d *Dispatcher) BroadcastToAll(event notify.Event) int {
	frame, err := notify.Encode(event)
	if err != nil {
		d.logger.Error().Err(err).Str("kind", string(event.Kind)).Msg("Dropping broadcast that cannot be encoded.")
		return 0
	}
	reached := 0
	for _, userID := range d.registry.Users() {
		if d.deliverFrame(userID, frame) {
			reached++
		}
	}
	d.logger.Debug().Int("users", reached).Msg("Broadcast dispatched.")
	return reached
}

// Emit implements notify.Emitter.
func (d *Dispatcher) Emit(_ context.Context, userID notify.UserID, event notify.Event) bool {
	return d.deliver(userID, event)
}

// CloseAllConnections terminates every live connection, used at shutdown.
func (d *Dispatcher) CloseAllConnections() int {
	n := d.registry.CloseAll(websocket.CloseGoingAway, "server shutting down")
	d.logger.Info().Int("connections", n).Msg("Closed all connections.")
	return n
}

func (d *Dispatcher) deliver(userID notify.UserID, event notify.Event) bool {
	conns := d.registry.Connections(userID)
	if len(conns) == 0 {
		return false
	}
	frame, err := notify.Encode(event)
	if err != nil {
		d.logger.Error().Err(err).Str("user", userID.String()).Str("kind", string(event.Kind)).Msg("Dropping event that cannot be encoded.")
		return false
	}
	return d.write(userID, conns, frame)
}

func (d *Dispatcher) deliverFrame(userID notify.UserID, frame []byte) bool {
	conns := d.registry.Connections(userID)
	if len(conns) == 0 {
		return false
	}
	return d.write(userID, conns, frame)
}

func (d *Dispatcher) write(userID notify.UserID, conns []*Connection, frame []byte) bool {
	delivered := false
	for _, c := range conns {
		if !c.Ready() {
			continue
		}
		if err := c.Enqueue(frame); err != nil {
			d.logger.Warn().Err(err).Str("user", userID.String()).Str("conn", c.ID()).Msg("Skipping connection.")
			continue
		}
		delivered = true
	}
	return delivered
}

var _ notify.Emitter = (*Dispatcher)(nil)
