package typing

import (
	"sync"
	"time"

	"supportchat/pkg/types"
)

// Throttle suppresses repeated outbound typing statuses per session.
// A status change always passes; the same status passes again only after
// the interval elapsed.
type Throttle struct {
	mu       sync.Mutex
	sessions map[string]*lastSent
	interval time.Duration
	now      func() time.Time
}

type lastSent struct {
	status types.TypingStatus
	at     time.Time
}

// NewThrottle creates a throttle. A non-positive interval disables it.
func NewThrottle(interval time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		sessions: make(map[string]*lastSent),
		interval: interval,
		now:      now,
	}
}

// Allow reports whether status may be sent for the session now.
func (t *Throttle) Allow(sessionID string, status types.TypingStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, exists := t.sessions[sessionID]
	if !exists {
		t.sessions[sessionID] = &lastSent{status: status, at: now}
		return true
	}

	if last.status == status && now.Sub(last.at) < t.interval {
		return false
	}

	last.status = status
	last.at = now
	return true
}

// Cleanup removes sessions idle for more than five intervals.
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, last := range t.sessions {
		if now.Sub(last.at) > 5*t.interval {
			delete(t.sessions, id)
		}
	}
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
