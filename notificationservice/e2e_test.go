package notificationservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-notification-service/internal/auth"
	"github.com/tinywideclouds/go-notification-service/internal/platform/sqlite"
	"github.com/tinywideclouds/go-notification-service/internal/realtime"
	"github.com/tinywideclouds/go-notification-service/internal/tenancy"
	"github.com/tinywideclouds/go-notification-service/notificationservice"
	"github.com/tinywideclouds/go-notification-service/notificationservice/config"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

const (
	e2eSecret        = "e2e-secret"
	e2eServiceSecret = "e2e-service-secret"
)

// --- Test Helpers ---

func createTestToken(t *testing.T, userID notify.UserID) string {
	t.Helper()
	token, err := auth.IssueToken(e2eSecret, "", userID, "", time.Hour)
	require.NoError(t, err)
	return token
}

func makeAPIRequest(t *testing.T, method, url, token string, body []byte) *http.Response {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readWS(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

// --- Main Test ---

func TestFullNotificationFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	logger := zerolog.Nop()

	// --- 1. Provision tenants ---
	catalog, err := sqlite.Open(t.TempDir(), testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })
	require.NoError(t, catalog.CreateTenant(ctx, "client_42", "42"))
	require.NoError(t, catalog.CreateTenant(ctx, "client_team1", "1"))
	require.NoError(t, catalog.AddMember(ctx, "client_team1", "7"))

	// --- 2. Wire the service ---
	resolver, err := tenancy.NewResolver(catalog, tenancy.NewMemoryCache(128, time.Minute), tenancy.Options{}, testLogger)
	require.NoError(t, err)
	tenantSwitch := tenancy.NewSwitch(resolver, testLogger)

	verifier, err := auth.NewJWTVerifier(e2eSecret, "")
	require.NoError(t, err)
	authMiddleware := auth.Middleware(verifier, time.Second, testLogger)
	serviceVerifier, err := auth.NewServiceVerifier(e2eServiceSecret, "")
	require.NoError(t, err)

	dispatcher := realtime.NewDispatcher(realtime.NewRegistry(logger), logger)
	connManager, err := realtime.NewConnectionManager(realtime.ManagerConfig{}, authMiddleware, tenantSwitch, dispatcher, logger)
	require.NoError(t, err)

	apiService, err := notificationservice.New(
		&config.AppConfig{APIPort: "0"},
		dispatcher,
		authMiddleware,
		tenantSwitch.Middleware(auth.UserIDFromContext),
		auth.ServiceMiddleware(serviceVerifier, verifier, time.Second, testLogger),
		testLogger,
	)
	require.NoError(t, err)

	apiServer := httptest.NewServer(apiService.Handler())
	t.Cleanup(apiServer.Close)
	wsServer := httptest.NewServer(connManager.Handler())
	t.Cleanup(wsServer.Close)
	t.Cleanup(func() { dispatcher.CloseAllConnections() })

	wsURL := "ws" + strings.TrimPrefix(wsServer.URL, "http") + realtime.DefaultPath
	tokenFor42 := createTestToken(t, "42")
	tokenFor7 := createTestToken(t, "7")
	serviceToken, err := auth.IssueServiceToken(e2eServiceSecret, "", "e2e-backend", time.Hour)
	require.NoError(t, err)

	// --- 3. Connect user 42 ---
	header := http.Header{"Authorization": []string{"Bearer " + tokenFor42}}
	client, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.JSONEq(t, `{"type":"connection_status","status":"connected","message":"Notification channel established"}`, readWS(t, client))

	require.Eventually(t, func() bool {
		return len(dispatcher.Registry().Connections("42")) == 1
	}, 5*time.Second, 5*time.Millisecond)
	conns := dispatcher.Registry().Connections("42")
	assert.Equal(t, notify.TenantID("client_42"), conns[0].Tenant())

	// --- 4. Tenant resolution over HTTP ---
	t.Run("Tenant by membership scan", func(t *testing.T) {
		var tr struct {
			UserID string `json:"userId"`
			Tenant string `json:"tenant"`
		}
		decodeBody(t, makeAPIRequest(t, http.MethodGet, apiServer.URL+"/api/tenant", tokenFor7, nil), &tr)
		assert.Equal(t, "7", tr.UserID)
		assert.Equal(t, "client_team1", tr.Tenant)
	})

	t.Run("Unknown user gets public tenant", func(t *testing.T) {
		var tr struct {
			Tenant string `json:"tenant"`
		}
		decodeBody(t, makeAPIRequest(t, http.MethodGet, apiServer.URL+"/api/tenant", createTestToken(t, "99"), nil), &tr)
		assert.Equal(t, "public", tr.Tenant)
	})

	// --- 5. Emit to the connected user ---
	t.Run("End-user tokens cannot emit to other users", func(t *testing.T) {
		// User 7 belongs to client_team1, user 42 to client_42.
		resp := makeAPIRequest(t, http.MethodPost, apiServer.URL+"/api/notifications/42", tokenFor7, []byte(`{"title":"log in at evil.example"}`))
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = makeAPIRequest(t, http.MethodPost, apiServer.URL+"/api/broadcast", tokenFor7, []byte(`"spam"`))
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = makeAPIRequest(t, http.MethodPost, apiServer.URL+"/api/refresh/42", tokenFor42, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	// The next frame user 42 reads must be the service notification below,
	// which shows the rejected emits above delivered nothing.
	t.Run("Notification reaches the live connection", func(t *testing.T) {
		var dr struct {
			Delivered bool `json:"delivered"`
		}
		resp := makeAPIRequest(t, http.MethodPost, apiServer.URL+"/api/notifications/42", serviceToken, []byte(`{"title":"hello"}`))
		decodeBody(t, resp, &dr)
		assert.True(t, dr.Delivered)
		assert.JSONEq(t, `{"type":"notification","notification":{"title":"hello"}}`, readWS(t, client))
	})

	t.Run("Refresh reaches the live connection", func(t *testing.T) {
		resp := makeAPIRequest(t, http.MethodPost, apiServer.URL+"/api/refresh/42", serviceToken, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"type":"refresh"}`, readWS(t, client))
	})

	t.Run("Offline user is not delivered", func(t *testing.T) {
		var dr struct {
			Delivered bool `json:"delivered"`
		}
		decodeBody(t, makeAPIRequest(t, http.MethodPost, apiServer.URL+"/api/notifications/7", serviceToken, []byte(`{}`)), &dr)
		assert.False(t, dr.Delivered)
	})

	t.Run("Broadcast counts connected users", func(t *testing.T) {
		var br struct {
			Recipients int `json:"recipients"`
		}
		decodeBody(t, makeAPIRequest(t, http.MethodPost, apiServer.URL+"/api/broadcast", serviceToken, []byte(`"maintenance"`)), &br)
		assert.Equal(t, 1, br.Recipients)
		assert.JSONEq(t, `{"type":"notification","notification":"maintenance"}`, readWS(t, client))
	})

	// --- 6. Disconnect ---
	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		return dispatcher.Registry().ConnectionCount() == 0
	}, 5*time.Second, 20*time.Millisecond, "closed connection was not unregistered")
}
