package router

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"supportchat/pkg/types"
)

// SessionSink receives the push traffic of one session.
// *session.Coordinator satisfies it.
type SessionSink interface {
	UpsertNewMessages(messages []types.ChatMessage) []types.ChatMessage
	MarkClosed()
}

// Router delivers inbound push frames to the session they belong to.
// It only decides where a frame goes; state changes happen in the sink.
type Router struct {
	mu     sync.RWMutex
	sinks  map[string]SessionSink
	typing map[string]map[int]func(types.TypingEvent)
	nextID int
	log    zerolog.Logger
}

// NewRouter creates an empty router.
func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		sinks:  make(map[string]SessionSink),
		typing: make(map[string]map[int]func(types.TypingEvent)),
		log:    log.With().Str("component", "router").Logger(),
	}
}

// Register routes message and closure frames for sessionID to sink.
func (r *Router) Register(sessionID string, sink SessionSink) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if sink == nil {
		return ErrInvalidSessionSink
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[sessionID]; exists {
		return ErrAlreadyRegistered
	}
	r.sinks[sessionID] = sink
	r.log.Debug().Str("session_id", sessionID).Msg("Session registered")
	return nil
}

// Unregister stops routing for sessionID.
func (r *Router) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, sessionID)
}

// Sessions returns the ids currently routed.
func (r *Router) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sinks))
	for id := range r.sinks {
		ids = append(ids, id)
	}
	return ids
}

// SubscribeTyping implements interfaces.TypingSource.
func (r *Router) SubscribeTyping(sessionID string, fn func(types.TypingEvent)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	if r.typing[sessionID] == nil {
		r.typing[sessionID] = make(map[int]func(types.TypingEvent))
	}
	r.typing[sessionID][id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.typing[sessionID], id)
			if len(r.typing[sessionID]) == 0 {
				delete(r.typing, sessionID)
			}
		})
	}
}

// DispatchRaw decodes a JSON frame and dispatches it.
func (r *Router) DispatchRaw(data []byte) error {
	var frame types.PushFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return r.Dispatch(&frame)
}

// Dispatch sends a frame to its session.
func (r *Router) Dispatch(frame *types.PushFrame) error {
	if frame == nil {
		return ErrInvalidFrame
	}
	if !types.IsValidFrameType(frame.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidFrameType, frame.Type)
	}
	if frame.SessionID == "" {
		return ErrMissingSessionID
	}

	switch frame.Type {
	case types.FrameTyping:
		return r.dispatchTyping(frame)

	case types.FrameMessageCreated, types.FrameMessageUpdated:
		if frame.Message == nil {
			return ErrMissingPayload
		}
		sink, err := r.sink(frame.SessionID)
		if err != nil {
			return err
		}
		msg := *frame.Message
		if msg.SessionID == "" {
			msg.SessionID = frame.SessionID
		}
		sink.UpsertNewMessages([]types.ChatMessage{msg})
		return nil

	case types.FrameSessionClosed:
		sink, err := r.sink(frame.SessionID)
		if err != nil {
			return err
		}
		sink.MarkClosed()
		return nil
	}
	return nil
}

func (r *Router) sink(sessionID string) (SessionSink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sinks[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return sink, nil
}

func (r *Router) dispatchTyping(frame *types.PushFrame) error {
	if frame.Typing == nil {
		return ErrMissingPayload
	}
	event := *frame.Typing
	if event.SessionID == "" {
		event.SessionID = frame.SessionID
	}

	r.mu.RLock()
	handlers := make([]func(types.TypingEvent), 0, len(r.typing[frame.SessionID]))
	for _, fn := range r.typing[frame.SessionID] {
		handlers = append(handlers, fn)
	}
	r.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
	return nil
}
