package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type staticComponent struct {
	name   string
	status common.HealthStatus
}

func (s *staticComponent) HealthCheck(context.Context) *common.ComponentHealth {
	return &common.ComponentHealth{Name: s.name, Status: s.status}
}

type nonHealthCheckableComponent struct{}

func TestManager_Register(t *testing.T) {
	m := NewManager(nil)
	m.Register(&staticComponent{name: "storage", status: common.HealthStatusHealthy})
	m.Register(&nonHealthCheckableComponent{})
	require.Len(t, m.components, 1)
}

func TestManager_CheckReadiness(t *testing.T) {
	tests := []struct {
		name     string
		statuses []common.HealthStatus
		want     common.HealthStatus
	}{
		{name: "no components", want: common.HealthStatusHealthy},
		{name: "all healthy", statuses: []common.HealthStatus{common.HealthStatusHealthy, common.HealthStatusHealthy}, want: common.HealthStatusHealthy},
		{name: "one degraded", statuses: []common.HealthStatus{common.HealthStatusHealthy, common.HealthStatusDegraded}, want: common.HealthStatusDegraded},
		{name: "unhealthy wins", statuses: []common.HealthStatus{common.HealthStatusUnhealthy, common.HealthStatusDegraded}, want: common.HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			for i, st := range tt.statuses {
				m.Register(&staticComponent{name: string(rune('a' + i)), status: st})
			}
			got, reports := m.CheckReadiness(context.Background())
			require.Equal(t, tt.want, got)
			require.Len(t, reports, len(tt.statuses))
		})
	}
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clock := common.NewMockTimeProvider(time.Unix(1700000000, 0).UTC())
	m := NewManager(clock)
	component := &staticComponent{name: "anchoring", status: common.HealthStatusHealthy}
	m.Register(component)

	r := gin.New()
	NewHandlers(m, logger.Sugared(logger.Test(t))).Register(r)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/health/live")
	require.Equal(t, http.StatusOK, w.Code)

	w = get("/health/ready")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, common.HealthStatusHealthy, resp.Status)
	assert.True(t, clock.Now().Equal(resp.Timestamp))

	component.status = common.HealthStatusDegraded
	assert.Equal(t, http.StatusOK, get("/health/ready").Code)

	component.status = common.HealthStatusUnhealthy
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)
	assert.Equal(t, http.StatusOK, get("/health/live").Code)
}

func TestNewHTTPHealthServer(t *testing.T) {
	server := NewHTTPHealthServer(NewManager(nil), "8081", logger.Sugared(logger.Test(t)))
	assert.Equal(t, ":8081", server.server.Addr)
	require.NoError(t, server.Stop(context.Background()))
}
