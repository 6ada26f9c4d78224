package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReportsChecks(t *testing.T) {
	tests := []struct {
		name   string
		ping   error
		code   int
		status string
		store  string
	}{
		{name: "store reachable", code: http.StatusOK, status: "ready", store: "ok"},
		{name: "store down", ping: errors.New("connection refused"), code: http.StatusServiceUnavailable, status: "not ready", store: "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(pingFunc(func(context.Context) error { return tt.ping }), nil)

			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.code, rec.Code)

			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.store, body.Checks["store"])
			assert.Equal(t, "disabled", body.Checks["events"])
		})
	}
}

func TestHealthAlwaysHealthy(t *testing.T) {
	h := NewHealthHandler(pingFunc(func(context.Context) error { return errors.New("down") }), nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
