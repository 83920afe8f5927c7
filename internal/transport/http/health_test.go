package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler_OK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		check          func(context.Context) error
		expectedStatus int
	}{
		{name: "no check", expectedStatus: http.StatusOK},
		{name: "stores answer", check: func(context.Context) error { return nil }, expectedStatus: http.StatusOK},
		{name: "store down", check: func(context.Context) error { return errors.New("dial tcp: refused") }, expectedStatus: http.StatusServiceUnavailable},
		{name: "check honours its deadline", check: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("no deadline")
			}
			return nil
		}, expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			ReadyHandler(tt.check)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}
