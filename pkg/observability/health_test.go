package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveness(t *testing.T) {
	h := NewHealthChecker()
	rec := httptest.NewRecorder()

	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusHealthy)
}

func TestReadinessAllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.Register("mongodb", PingerFunc(func(context.Context) error { return nil }))
	h.Register("redis", PingerFunc(func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["mongodb"])
	assert.Equal(t, StatusHealthy, status.Dependencies["redis"])
}

func TestReadinessDependencyDown(t *testing.T) {
	h := NewHealthChecker()
	h.Register("mongodb", PingerFunc(func(context.Context) error { return nil }))
	h.Register("redis", PingerFunc(func(context.Context) error { return fmt.Errorf("connection refused") }))

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"])
	assert.Equal(t, StatusHealthy, status.Dependencies["mongodb"])
}
