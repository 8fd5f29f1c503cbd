package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"supportchat/internal/metrics"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// EventKind names a listener callback.
type EventKind string

const (
	EventLoad                    EventKind = "load"
	EventContentChange           EventKind = "content_change"
	EventError                   EventKind = "error"
	EventSessionCreated          EventKind = "session_created"
	EventSatisfactionFormFetched EventKind = "satisfaction_form_fetched"
	EventTypingUpdate            EventKind = "typing_update"
	EventChatEnded               EventKind = "chat_ended"
)

// Event is one state change to fan out to listeners.
type Event struct {
	Kind      EventKind
	SessionID string
	Err       error
	Typing    types.TypingIndicator
}

// Hub is the listener registry. All callbacks run on the single hub
// goroutine, so listeners never observe two notifications concurrently.
type Hub struct {
	eventChannel    chan Event
	shutdownChannel chan struct{}
	done            chan struct{}

	listeners map[int]any
	nextID    int

	running bool
	mu      sync.RWMutex
	log     zerolog.Logger
}

// NewHub creates a hub with a buffered event queue.
func NewHub(bufferSize int, log zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Hub{
		eventChannel: make(chan Event, bufferSize),
		listeners:    make(map[int]any),
		log:          log.With().Str("component", "hub").Logger(),
	}
}

// Start begins dispatching on a new goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})
	shutdown, done := h.shutdownChannel, h.done
	h.mu.Unlock()

	h.log.Debug().Msg("Starting listener hub")
	go h.run(ctx, shutdown, done)
	return nil
}

// Stop ends dispatching after the queued events were delivered.
// It does not wait; use Done for that.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	return nil
}

// Done is closed when the dispatch goroutine exited.
func (h *Hub) Done() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return h.done
}

// AddListener registers an observer implementing any of the listener
// capabilities in pkg/interfaces. The returned function unregisters it.
func (h *Hub) AddListener(listener any) (func(), error) {
	if listener == nil {
		return nil, ErrNilListener
	}
	if !hasCallbacks(listener) {
		return nil, ErrNoCallbacks
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = listener
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}, nil
}

// ListenerCount returns the number of registered listeners.
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Publish queues an event, blocking until there is room, the hub stops,
// or ctx is done.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	shutdown := h.shutdownChannel
	h.mu.RUnlock()

	select {
	case h.eventChannel <- event:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish queues an event without blocking. Used for best-effort
// signals such as typing indicators.
func (h *Hub) TryPublish(event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.eventChannel <- event:
		return nil
	default:
		metrics.EventsDropped.WithLabelValues(string(event.Kind)).Inc()
		return ErrEventChannelFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)
	defer h.log.Debug().Msg("Listener hub stopped")

	for {
		select {
		case event := <-h.eventChannel:
			h.dispatch(event)

		case <-shutdown:
			h.drain()
			return

		case <-ctx.Done():
			h.mu.Lock()
			if h.running && h.shutdownChannel == shutdown {
				h.running = false
				close(shutdown)
			}
			h.mu.Unlock()
			h.drain()
			return
		}
	}
}

// drain delivers events that were queued before shutdown.
func (h *Hub) drain() {
	for {
		select {
		case event := <-h.eventChannel:
			h.dispatch(event)
		default:
			return
		}
	}
}

func (h *Hub) dispatch(event Event) {
	h.mu.RLock()
	targets := make([]any, 0, len(h.listeners))
	for _, l := range h.listeners {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	for _, l := range targets {
		h.deliver(l, event)
	}
}

func (h *Hub) deliver(listener any, event Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("event", string(event.Kind)).Msg("Listener panicked")
		}
	}()

	delivered := true
	switch event.Kind {
	case EventLoad:
		if l, ok := listener.(interfaces.LoadListener); ok {
			l.OnLoad(event.SessionID)
		} else {
			delivered = false
		}
	case EventContentChange:
		if l, ok := listener.(interfaces.ContentChangeListener); ok {
			l.OnContentChange(event.SessionID)
		} else {
			delivered = false
		}
	case EventError:
		if l, ok := listener.(interfaces.ErrorListener); ok {
			l.OnError(event.SessionID, event.Err)
		} else {
			delivered = false
		}
	case EventSessionCreated:
		if l, ok := listener.(interfaces.SessionCreatedListener); ok {
			l.OnSessionCreated(event.SessionID)
		} else {
			delivered = false
		}
	case EventSatisfactionFormFetched:
		if l, ok := listener.(interfaces.SatisfactionFormListener); ok {
			l.OnSatisfactionFormFetched(event.SessionID)
		} else {
			delivered = false
		}
	case EventTypingUpdate:
		if l, ok := listener.(interfaces.TypingListener); ok {
			l.OnTypingUpdate(event.SessionID, event.Typing)
		} else {
			delivered = false
		}
	case EventChatEnded:
		if l, ok := listener.(interfaces.ChatEndedListener); ok {
			l.OnChatEnded(event.SessionID)
		} else {
			delivered = false
		}
	default:
		h.log.Warn().Str("event", string(event.Kind)).Msg("Unknown event kind")
		return
	}

	if delivered {
		metrics.NotificationsTotal.WithLabelValues(string(event.Kind)).Inc()
	}
}

func hasCallbacks(listener any) bool {
	switch listener.(type) {
	case interfaces.LoadListener,
		interfaces.ContentChangeListener,
		interfaces.ErrorListener,
		interfaces.SessionCreatedListener,
		interfaces.SatisfactionFormListener,
		interfaces.TypingListener,
		interfaces.ChatEndedListener:
		return true
	default:
		return false
	}
}
