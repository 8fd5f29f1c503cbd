package typing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"supportchat/internal/hub"
	"supportchat/internal/metrics"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

const (
	defaultStaleAfter = 6 * time.Second
	publishTimeout    = 5 * time.Second
)

var ErrNoSession = errors.New("typing: session has no id yet")

// Dispatcher delivers best-effort listener events. *hub.Hub satisfies it.
type Dispatcher interface {
	TryPublish(event hub.Event) error
}

// Options wires a Channel to its collaborators.
type Options struct {
	Publisher        interfaces.TypingPublisher
	Source           interfaces.TypingSource
	Dispatcher       Dispatcher
	CurrentUserID    string
	StaleAfter       time.Duration
	ThrottleInterval time.Duration
	Logger           zerolog.Logger
	Now              func() time.Time
}

// Channel carries typing signals of one conversation in both directions.
type Channel struct {
	sessionID func() string
	opts      Options
	throttle  *Throttle

	mu          sync.Mutex
	unsubscribe func()
	listeningID string
	latest      map[string]types.TypingIndicator
	timers      map[string]*time.Timer

	sends sync.WaitGroup
	log   zerolog.Logger
}

// New creates a channel. sessionID is read on every call, so the channel
// can be built before the backend assigned an id.
func New(sessionID func() string, opts Options) *Channel {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Channel{
		sessionID: sessionID,
		opts:      opts,
		throttle:  NewThrottle(opts.ThrottleInterval, opts.Now),
		latest:    make(map[string]types.TypingIndicator),
		timers:    make(map[string]*time.Timer),
		log:       opts.Logger.With().Str("component", "typing").Logger(),
	}
}

// SendTypingStatus signals the current user's composing state. It never
// blocks and never changes local state.
func (c *Channel) SendTypingStatus(status types.TypingStatus) {
	id := c.sessionID()
	if id == "" || c.opts.Publisher == nil {
		metrics.TypingSent.WithLabelValues("no_session").Inc()
		return
	}
	if !c.throttle.Allow(id, status) {
		metrics.TypingSent.WithLabelValues("throttled").Inc()
		return
	}

	c.sends.Add(1)
	go func() {
		defer c.sends.Done()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.opts.Publisher.PublishTyping(ctx, id, status); err != nil {
			metrics.TypingSent.WithLabelValues("failed").Inc()
			c.log.Debug().Err(err).Str("session_id", id).Msg("Typing status not delivered")
			return
		}
		metrics.TypingSent.WithLabelValues("sent").Inc()
	}()
}

// StartListening subscribes to inbound typing events. Calling it again
// while subscribed is a no-op.
func (c *Channel) StartListening() error {
	id := c.sessionID()
	if id == "" {
		return ErrNoSession
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil || c.opts.Source == nil {
		return nil
	}
	c.listeningID = id
	c.unsubscribe = c.opts.Source.SubscribeTyping(id, c.receive)
	c.log.Debug().Str("session_id", id).Msg("Listening for typing updates")
	return nil
}

// StopListening unsubscribes and forgets every indicator. Calling it
// while not subscribed is a no-op.
func (c *Channel) StopListening() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	for user, timer := range c.timers {
		timer.Stop()
		delete(c.timers, user)
	}
	c.latest = make(map[string]types.TypingIndicator)
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// IsListening reports whether a subscription is active.
func (c *Channel) IsListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribe != nil
}

// ActiveIndicators returns the participants currently typing.
func (c *Channel) ActiveIndicators() []types.TypingIndicator {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	var out []types.TypingIndicator
	for _, ind := range c.latest {
		if ind.IsActive(now, c.opts.StaleAfter) {
			out = append(out, ind)
		}
	}
	return out
}

func (c *Channel) receive(event types.TypingEvent) {
	if event.UserID == "" || event.UserID == c.opts.CurrentUserID {
		return
	}

	c.mu.Lock()
	if c.unsubscribe == nil || event.SessionID != c.listeningID {
		c.mu.Unlock()
		return
	}

	indicator := types.TypingIndicator{
		SessionID:  event.SessionID,
		UserID:     event.UserID,
		Status:     event.Status,
		ReceivedAt: c.opts.Now(),
	}
	c.latest[event.UserID] = indicator

	if timer, ok := c.timers[event.UserID]; ok {
		timer.Stop()
		delete(c.timers, event.UserID)
	}
	if indicator.Status == types.TypingActive {
		c.timers[event.UserID] = time.AfterFunc(c.opts.StaleAfter, func() {
			c.expire(indicator)
		})
	}
	c.mu.Unlock()

	c.dispatch(indicator)
}

// expire reports an indicator that went stale without a newer signal.
func (c *Channel) expire(indicator types.TypingIndicator) {
	c.mu.Lock()
	current, ok := c.latest[indicator.UserID]
	if !ok || !current.ReceivedAt.Equal(indicator.ReceivedAt) {
		c.mu.Unlock()
		return
	}
	stale := types.TypingIndicator{
		SessionID:  indicator.SessionID,
		UserID:     indicator.UserID,
		Status:     types.TypingPaused,
		ReceivedAt: c.opts.Now(),
	}
	c.latest[indicator.UserID] = stale
	delete(c.timers, indicator.UserID)
	c.mu.Unlock()

	c.dispatch(stale)
}

func (c *Channel) dispatch(indicator types.TypingIndicator) {
	if c.opts.Dispatcher == nil {
		return
	}
	err := c.opts.Dispatcher.TryPublish(hub.Event{
		Kind:      hub.EventTypingUpdate,
		SessionID: indicator.SessionID,
		Typing:    indicator,
	})
	if err != nil {
		c.log.Debug().Err(err).Str("user_id", indicator.UserID).Msg("Typing update dropped")
	}
}

// Close stops listening and waits for outbound sends.
func (c *Channel) Close() {
	c.StopListening()
	c.sends.Wait()
	c.throttle.Cleanup()
}
