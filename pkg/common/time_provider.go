package common

import (
	"sync"
	"time"
)

type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
}

type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time {
	return time.Now()
}

func NewRealTimeProvider() TimeProvider {
	return &realTimeProvider{}
}

// MockTimeProvider is a controllable clock for tests. It is safe for concurrent use.
type MockTimeProvider struct {
	mu          sync.RWMutex
	currentTime time.Time
}

func (m *MockTimeProvider) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentTime
}

func (m *MockTimeProvider) SetTime(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

func (m *MockTimeProvider) AdvanceTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func NewMockTimeProvider(initialTime time.Time) *MockTimeProvider {
	return &MockTimeProvider{
		currentTime: initialTime,
	}
}
