/*
File: internal/api/notification_handlers.go
Description: HTTP handlers for tenant introspection and for pushing
events to connected users.
*/
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-notification-service/internal/auth"
	"github.com/tinywideclouds/go-notification-service/internal/response"
	"github.com/tinywideclouds/go-notification-service/internal/tenancy"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

const maxNotificationBytes = 64 << 10

// Notifier is the realtime delivery surface the handlers drive.
type Notifier interface {
	SendToUser(userID notify.UserID, notification any) bool
	SendRefreshCommand(userID notify.UserID) bool
	BroadcastNotification(notification any) int
}

// TenantResponse describes the caller's applied tenant.
type TenantResponse struct {
	UserID notify.UserID   `json:"userId"`
	Tenant notify.TenantID `json:"tenant"`
}

// DeliveryResponse reports whether a user had a live connection.
type DeliveryResponse struct {
	Delivered bool `json:"delivered"`
}

// BroadcastResponse reports how many users accepted a broadcast.
type BroadcastResponse struct {
	Recipients int `json:"recipients"`
}

// API holds the dependencies for the HTTP handlers.
type API struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewAPI creates a new API handler.
func NewAPI(notifier Notifier, logger *slog.Logger) *API {
	return &API{
		notifier: notifier,
		logger:   logger,
	}
}

// TenantHandler returns the tenant applied to the current request.
func (a *API) TenantHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		a.logger.Warn("TenantHandler: No user ID in context")
		response.WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}
	tenant, ok := tenancy.TenantFromContext(r.Context())
	if !ok {
		a.logger.Error("TenantHandler: No tenant applied to request", "user", userID.String())
		response.WriteJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	response.WriteJSON(w, http.StatusOK, TenantResponse{UserID: userID, Tenant: tenant})
}

// NotifyUserHandler pushes the request body as a notification to every
// live connection of the user named in the path.
func (a *API) NotifyUserHandler(w http.ResponseWriter, r *http.Request) {
	recipient := notify.UserID(r.PathValue("userID"))
	if recipient == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing user id")
		return
	}
	log := a.logger.With("recipient", recipient.String())

	payload, ok := a.readNotification(w, r, log)
	if !ok {
		return
	}

	delivered := a.notifier.SendToUser(recipient, payload)
	log.Debug("Notification dispatched", "delivered", delivered)
	response.WriteJSON(w, http.StatusOK, DeliveryResponse{Delivered: delivered})
}

// RefreshHandler tells the user named in the path to re-fetch its data.
func (a *API) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	recipient := notify.UserID(r.PathValue("userID"))
	if recipient == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing user id")
		return
	}

	delivered := a.notifier.SendRefreshCommand(recipient)
	a.logger.Debug("Refresh command dispatched", "recipient", recipient.String(), "delivered", delivered)
	response.WriteJSON(w, http.StatusOK, DeliveryResponse{Delivered: delivered})
}

// BroadcastHandler pushes the request body as a notification to every
// connected user.
func (a *API) BroadcastHandler(w http.ResponseWriter, r *http.Request) {
	payload, ok := a.readNotification(w, r, a.logger)
	if !ok {
		return
	}

	caller, _ := auth.UserIDFromContext(r.Context())
	recipients := a.notifier.BroadcastNotification(payload)
	a.logger.Info("Broadcast dispatched", "caller", caller.String(), "recipients", recipients)
	response.WriteJSON(w, http.StatusOK, BroadcastResponse{Recipients: recipients})
}

// readNotification reads the body as an opaque JSON value. On failure it has
// already written the error response.
func (a *API) readNotification(w http.ResponseWriter, r *http.Request, log *slog.Logger) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
	if err != nil {
		log.Warn("Failed to read request body", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(body) == 0 || !json.Valid(body) {
		log.Warn("Rejecting notification that is not valid JSON")
		response.WriteJSONError(w, http.StatusBadRequest, "notification must be a JSON value")
		return nil, false
	}
	return json.RawMessage(body), true
}
