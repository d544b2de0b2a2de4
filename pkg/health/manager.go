// Package health aggregates component health for the liveness and readiness probes.
package health

import (
	"context"
	"sync"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
)

type Manager struct {
	components   []common.HealthChecker
	timeProvider common.TimeProvider
	mu           sync.RWMutex
}

func NewManager(timeProvider common.TimeProvider) *Manager {
	if timeProvider == nil {
		timeProvider = common.NewRealTimeProvider()
	}
	return &Manager{
		components:   make([]common.HealthChecker, 0),
		timeProvider: timeProvider,
	}
}

// Register adds component when it implements common.HealthChecker and ignores it otherwise.
func (m *Manager) Register(component any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if checker, ok := component.(common.HealthChecker); ok {
		m.components = append(m.components, checker)
	}
}

func (m *Manager) CheckLiveness(_ context.Context) *common.ComponentHealth {
	return &common.ComponentHealth{
		Name:      "liveness",
		Status:    common.HealthStatusHealthy,
		Message:   "service is running",
		Timestamp: m.timeProvider.Now(),
	}
}

// CheckReadiness returns the worst status across components together with every report.
func (m *Manager) CheckReadiness(ctx context.Context) (common.HealthStatus, []*common.ComponentHealth) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*common.ComponentHealth, 0, len(m.components))
	overallStatus := common.HealthStatusHealthy

	for _, component := range m.components {
		health := component.HealthCheck(ctx)
		results = append(results, health)

		switch health.Status {
		case common.HealthStatusUnhealthy:
			overallStatus = common.HealthStatusUnhealthy
		case common.HealthStatusDegraded:
			if overallStatus != common.HealthStatusUnhealthy {
				overallStatus = common.HealthStatusDegraded
			}
		}
	}

	return overallStatus, results
}
