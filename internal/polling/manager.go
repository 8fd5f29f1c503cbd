package polling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"supportchat/internal/metrics"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// Target is the session a poller keeps up to date.
// *session.Coordinator satisfies it.
type Target interface {
	SessionID() string
	UpsertNewMessages(messages []types.ChatMessage) []types.ChatMessage
	DidAgentReply() bool
	IsChatClosed() bool
}

// Config tunes the poll loop.
type Config struct {
	Interval    time.Duration
	MaxInterval time.Duration
	PageSize    int
}

// Manager polls the newest history page and, until an agent replied, the
// queue position of one session. Poll errors back off exponentially up to
// MaxInterval. Outgoing messages are never retried here.
type Manager struct {
	transport interfaces.Transport
	target    Target
	cfg       Config

	mu       sync.RWMutex
	queue    *types.QueueStatus
	lastErr  error
	lastPoll time.Time
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}

	log zerolog.Logger
}

// NewManager creates a poller for target.
func NewManager(transport interfaces.Transport, target Target, cfg Config, log zerolog.Logger) (*Manager, error) {
	if transport == nil {
		return nil, ErrMissingTransport
	}
	if target == nil {
		return nil, ErrMissingTarget
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Manager{
		transport: transport,
		target:    target,
		cfg:       cfg,
		log:       log.With().Str("component", "polling").Logger(),
	}, nil
}

// Start runs the poll loop until Stop, ctx is done, or the session closes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
	return nil
}

// Stop ends the loop and waits for it to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

// IsRunning reports whether the loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.Interval
	b.MaxInterval = m.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if m.target.IsChatClosed() {
			m.log.Debug().Str("session_id", m.target.SessionID()).Msg("Session closed, polling stopped")
			return
		}

		wait := m.cfg.Interval
		if err := m.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = b.NextBackOff()
			m.log.Warn().Err(err).Dur("retry_in", wait).Msg("Poll failed")
		} else {
			b.Reset()
		}
		timer.Reset(wait)
	}
}

// PollOnce fetches the newest page and the queue position once.
func (m *Manager) PollOnce(ctx context.Context) error {
	sessionID := m.target.SessionID()
	if sessionID == "" {
		return nil
	}

	err := m.pollMessages(ctx, sessionID)
	if err == nil && !m.target.DidAgentReply() {
		err = m.pollQueue(ctx, sessionID)
	}

	m.mu.Lock()
	m.lastErr = err
	m.lastPoll = time.Now()
	m.mu.Unlock()
	return err
}

func (m *Manager) pollMessages(ctx context.Context, sessionID string) error {
	page, err := m.transport.FetchMessages(ctx, sessionID, types.Page{Limit: m.cfg.PageSize})
	if err != nil {
		metrics.PollsTotal.WithLabelValues("messages", "failed").Inc()
		return fmt.Errorf("%w: messages: %w", types.ErrFetchFailed, err)
	}
	metrics.PollsTotal.WithLabelValues("messages", "ok").Inc()

	if changed := m.target.UpsertNewMessages(page.Messages); len(changed) > 0 {
		m.log.Debug().Str("session_id", sessionID).Int("changed", len(changed)).Msg("Poll delivered messages")
	}
	return nil
}

func (m *Manager) pollQueue(ctx context.Context, sessionID string) error {
	status, err := m.transport.FetchQueueStatus(ctx, sessionID)
	if err != nil {
		metrics.PollsTotal.WithLabelValues("queue", "failed").Inc()
		return fmt.Errorf("%w: queue: %w", types.ErrFetchFailed, err)
	}
	metrics.PollsTotal.WithLabelValues("queue", "ok").Inc()

	m.mu.Lock()
	m.queue = status
	m.mu.Unlock()
	return nil
}

// QueueStatus returns the last polled queue position.
func (m *Manager) QueueStatus() (types.QueueStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.queue == nil {
		return types.QueueStatus{}, false
	}
	return *m.queue, true
}

// LastError returns the error of the most recent poll, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// LastPoll returns when the most recent poll finished.
func (m *Manager) LastPoll() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPoll
}
