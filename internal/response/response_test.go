package response_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-notification-service/internal/response"
)

func TestWriteJSONError(t *testing.T) {
	rr := httptest.NewRecorder()
	response.WriteJSONError(rr, http.StatusUnauthorized, "missing authentication token")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"missing authentication token"}`, rr.Body.String())
}

func TestWriteJSON_NilBody(t *testing.T) {
	rr := httptest.NewRecorder()
	response.WriteJSON(rr, http.StatusAccepted, nil)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Empty(t, rr.Body.String())
}
