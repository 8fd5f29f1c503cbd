package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportchat/pkg/types"
)

type mockFetcher struct {
	calls    atomic.Int32
	gate     chan struct{}
	mu       sync.Mutex
	schedule *types.Schedule
	err      error
}

func (m *mockFetcher) FetchSchedule(ctx context.Context, scheduleID string) (*types.Schedule, error) {
	m.calls.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedule, m.err
}

func (m *mockFetcher) set(s *types.Schedule, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule, m.err = s, err
}

// Monday to Friday, 09:00-17:00 UTC.
func weekdaySchedule() *types.Schedule {
	hours := make(map[time.Weekday][]types.MinuteRange)
	for d := time.Monday; d <= time.Friday; d++ {
		hours[d] = []types.MinuteRange{{Start: 9 * 60, End: 17 * 60}}
	}
	return &types.Schedule{ID: "sched-1", Name: "Support", Enabled: true, Timezone: "UTC", Hours: hours}
}

type outcome struct{ success, enabled bool }

func fetch(t *testing.T, l *Lookup) outcome {
	t.Helper()
	done := make(chan outcome, 1)
	l.FetchBusinessHours(context.Background(), func(success, enabled bool) {
		done <- outcome{success, enabled}
	})
	select {
	case o := <-done:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
		return outcome{}
	}
}

func TestNewLookup_RequiresFetcher(t *testing.T) {
	_, err := NewLookup(nil, "", zerolog.Nop())
	assert.Equal(t, ErrMissingFetcher, err)
}

func TestLookup_FalseBeforeFirstFetch(t *testing.T) {
	l, err := NewLookup(&mockFetcher{}, "", zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, l.IsActiveBusinessHours())
	assert.Nil(t, l.Schedule())
}

func TestLookup_FetchAndEvaluate(t *testing.T) {
	f := &mockFetcher{schedule: weekdaySchedule()}
	l, err := NewLookup(f, "", zerolog.Nop())
	require.NoError(t, err)

	// 2024-03-04 is a Monday.
	l.SetClock(func() time.Time { return time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC) })

	assert.Equal(t, outcome{success: true, enabled: true}, fetch(t, l))
	assert.Equal(t, "sched-1", l.ScheduleID())
	assert.True(t, l.IsActiveBusinessHours())

	l.SetClock(func() time.Time { return time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC) })
	assert.False(t, l.IsActiveBusinessHours(), "ranges are half-open")

	l.SetClock(func() time.Time { return time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC) })
	assert.False(t, l.IsActiveBusinessHours(), "saturday is closed")
}

func TestLookup_FailureKeepsPreviousSnapshot(t *testing.T) {
	f := &mockFetcher{schedule: weekdaySchedule()}
	l, err := NewLookup(f, "sched-1", zerolog.Nop())
	require.NoError(t, err)

	require.True(t, fetch(t, l).success)
	before := l.Schedule()

	f.set(nil, errors.New("timeout"))
	assert.Equal(t, outcome{}, fetch(t, l))
	assert.Same(t, before, l.Schedule())
	assert.Equal(t, "sched-1", l.ScheduleID())

	_, err = l.Refresh(context.Background())
	assert.ErrorIs(t, err, types.ErrFetchFailed)
}

func TestLookup_DisabledSchedule(t *testing.T) {
	s := weekdaySchedule()
	s.Enabled = false
	l, err := NewLookup(&mockFetcher{schedule: s}, "", zerolog.Nop())
	require.NoError(t, err)
	l.SetClock(func() time.Time { return time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC) })

	assert.Equal(t, outcome{success: true, enabled: false}, fetch(t, l))
	assert.False(t, l.IsActiveBusinessHours())
}

func TestLookup_ConcurrentFetchesShareOneRequest(t *testing.T) {
	f := &mockFetcher{schedule: weekdaySchedule(), gate: make(chan struct{})}
	l, err := NewLookup(f, "", zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan outcome, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		l.FetchBusinessHours(context.Background(), func(success, enabled bool) {
			defer wg.Done()
			results <- outcome{success, enabled}
		})
	}

	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(results)

	for r := range results {
		assert.True(t, r.success)
	}
	assert.Equal(t, int32(1), f.calls.Load())
}
