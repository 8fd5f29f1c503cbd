package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"supportchat/internal/metrics"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

var ErrMissingFetcher = errors.New("schedule fetcher is required")

// Lookup answers "is live support open right now" from the last schedule
// it fetched. A failed fetch keeps the previous snapshot.
type Lookup struct {
	fetcher    interfaces.ScheduleFetcher
	scheduleID string
	group      singleflight.Group

	mu       sync.RWMutex
	schedule *types.Schedule
	fetched  time.Time

	now func() time.Time
	log zerolog.Logger
}

// NewLookup creates a lookup for the given schedule id. An empty id asks
// the backend for the default schedule.
func NewLookup(fetcher interfaces.ScheduleFetcher, scheduleID string, log zerolog.Logger) (*Lookup, error) {
	if fetcher == nil {
		return nil, ErrMissingFetcher
	}
	return &Lookup{
		fetcher:    fetcher,
		scheduleID: scheduleID,
		now:        time.Now,
		log:        log.With().Str("component", "schedule").Logger(),
	}, nil
}

// SetClock replaces the time source used by IsActiveBusinessHours.
func (l *Lookup) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// FetchBusinessHours refreshes the schedule in the background. callback,
// if set, runs once with the outcome and whether the schedule is enabled.
// Concurrent calls share one request.
func (l *Lookup) FetchBusinessHours(ctx context.Context, callback func(success, enabled bool)) {
	go func() {
		schedule, err := l.Refresh(ctx)
		if callback == nil {
			return
		}
		if err != nil {
			callback(false, false)
			return
		}
		callback(true, schedule.Enabled)
	}()
}

// Refresh fetches the schedule and blocks until the shared request returns.
func (l *Lookup) Refresh(ctx context.Context) (*types.Schedule, error) {
	v, err, shared := l.group.Do("schedule", func() (any, error) {
		return l.fetcher.FetchSchedule(ctx, l.scheduleID)
	})
	if err != nil {
		metrics.PollsTotal.WithLabelValues("schedule", "failed").Inc()
		err = fmt.Errorf("%w: schedule: %w", types.ErrFetchFailed, err)
		l.log.Warn().Err(err).Str("schedule_id", l.ScheduleID()).Msg("Business hours fetch failed")
		return nil, err
	}
	schedule, _ := v.(*types.Schedule)
	if schedule == nil {
		metrics.PollsTotal.WithLabelValues("schedule", "failed").Inc()
		return nil, fmt.Errorf("%w: schedule: empty response", types.ErrFetchFailed)
	}

	if !shared {
		metrics.PollsTotal.WithLabelValues("schedule", "ok").Inc()
	}
	l.mu.Lock()
	l.schedule = schedule
	l.fetched = l.now()
	if schedule.ID != "" {
		l.scheduleID = schedule.ID
	}
	l.mu.Unlock()

	l.log.Debug().Str("schedule_id", schedule.ID).Bool("enabled", schedule.Enabled).Msg("Business hours updated")
	return schedule, nil
}

// ScheduleID returns the id of the schedule in use.
func (l *Lookup) ScheduleID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scheduleID
}

// Schedule returns the last fetched schedule, or nil before the first
// successful fetch.
func (l *Lookup) Schedule() *types.Schedule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.schedule
}

// LastFetched returns when the snapshot was taken.
func (l *Lookup) LastFetched() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fetched
}

// IsActiveBusinessHours evaluates the snapshot at the current time. It is
// false until a schedule was fetched.
func (l *Lookup) IsActiveBusinessHours() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.schedule.IsActiveAt(l.now())
}
