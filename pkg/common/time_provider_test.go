package common

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRealTimeProvider_NowReturnsCurrentTime(t *testing.T) {
	tp := NewRealTimeProvider()
	before := time.Now().Add(-1 * time.Second)
	now := tp.Now()
	after := time.Now().Add(1 * time.Second)

	require.True(t, now.After(before) && now.Before(after), "expected Now() to be close to current time, got %v", now)
}

func TestMockTimeProvider_SetAndAdvance(t *testing.T) {
	initial := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	tp := NewMockTimeProvider(initial)
	require.True(t, tp.Now().Equal(initial))

	next := initial.Add(5 * time.Minute)
	tp.SetTime(next)
	require.True(t, tp.Now().Equal(next))

	tp.AdvanceTime(90 * time.Second)
	require.True(t, tp.Now().Equal(next.Add(90*time.Second)))
}

func TestMockTimeProvider_ConcurrentAdvance(t *testing.T) {
	initial := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	tp := NewMockTimeProvider(initial)

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			tp.AdvanceTime(time.Second)
			_ = tp.Now()
		})
	}
	wg.Wait()

	require.Equal(t, initial.Add(50*time.Second), tp.Now())
}
