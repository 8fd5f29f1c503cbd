package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"supportchat/internal/hub"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// Mock Transport for testing
type mockTransport struct {
	mu sync.Mutex

	// Control behavior for testing
	createGate   chan struct{}
	createErr    error
	submitGate   chan struct{}
	submitErr    func(call int, msg *types.ChatMessage) error
	serverIDs    bool
	endErr       error
	pages        []*types.MessagePage
	fetchErr     error
	createCalls  int
	submitted    []types.ChatMessage
	fetchedPages []types.Page
	ended        []string
}

func (m *mockTransport) CreateSession(ctx context.Context, formID string) (*types.Session, error) {
	m.mu.Lock()
	m.createCalls++
	gate, err := m.createGate, m.createErr
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.Session{ID: "srv-1", FormID: formID, State: types.StateActive}, nil
}

func (m *mockTransport) SubmitMessage(ctx context.Context, msg *types.ChatMessage) (*types.ChatMessage, error) {
	m.mu.Lock()
	gate := m.submitGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	call := len(m.submitted)
	m.submitted = append(m.submitted, *msg)
	if m.submitErr != nil {
		if err := m.submitErr(call, msg); err != nil {
			return nil, err
		}
	}

	out := *msg
	if m.serverIDs {
		out.ID = "srv-" + msg.ID
	}
	out.Status = types.StatusSent
	return &out, nil
}

func (m *mockTransport) EndChat(ctx context.Context, sessionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.endErr != nil {
		return m.endErr
	}
	m.ended = append(m.ended, sessionID)
	return nil
}

func (m *mockTransport) FetchMessages(ctx context.Context, sessionID string, page types.Page) (*types.MessagePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchedPages = append(m.fetchedPages, page)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if len(m.pages) == 0 {
		return &types.MessagePage{}, nil
	}
	next := m.pages[0]
	m.pages = m.pages[1:]
	return next, nil
}

func (m *mockTransport) FetchQueueStatus(ctx context.Context, sessionID string) (*types.QueueStatus, error) {
	return &types.QueueStatus{}, nil
}

func (m *mockTransport) submittedBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.submitted))
	for i, msg := range m.submitted {
		out[i] = msg.Body
	}
	return out
}

func (m *mockTransport) submittedMessages() []types.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ChatMessage(nil), m.submitted...)
}

type mockSatisfaction struct {
	pending bool
	err     error
}

func (m *mockSatisfaction) Pending(ctx context.Context, sessionID string) (bool, error) {
	return m.pending, m.err
}

// Mock MessageCache for testing
type mockCache struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	messages map[string]types.ChatMessage
}

func newMockCache() *mockCache {
	return &mockCache{
		sessions: make(map[string]*types.Session),
		messages: make(map[string]types.ChatMessage),
	}
}

func (m *mockCache) SaveSession(ctx context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockCache) GetSession(ctx context.Context, id string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s, nil
}

func (m *mockCache) StoreMessages(ctx context.Context, msgs []types.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.messages[msg.ID] = msg
	}
	return nil
}

func (m *mockCache) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	return nil
}

func (m *mockCache) GetSessionHistory(ctx context.Context, id string) ([]types.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ChatMessage
	for _, msg := range m.messages {
		if msg.SessionID == id {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockCache) HealthCheck(ctx context.Context) error { return nil }
func (m *mockCache) Close() error                          { return nil }

func (m *mockCache) get(id string) (types.ChatMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok
}

// eventLog records listener callbacks by kind.
type eventLog struct {
	mu     sync.Mutex
	events []hub.Event
}

func (e *eventLog) add(ev hub.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) count(kind hub.EventKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (e *eventLog) lastErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].Kind == hub.EventError {
			return e.events[i].Err
		}
	}
	return nil
}

func newTestHub(t *testing.T) (*hub.Hub, *eventLog) {
	t.Helper()
	h := hub.NewHub(64, zerolog.Nop())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })

	rec := &eventLog{}
	_, err := h.AddListener(&hub.ListenerFuncs{
		Load:          func(id string) { rec.add(hub.Event{Kind: hub.EventLoad, SessionID: id}) },
		ContentChange: func(id string) { rec.add(hub.Event{Kind: hub.EventContentChange, SessionID: id}) },
		Error:         func(id string, err error) { rec.add(hub.Event{Kind: hub.EventError, SessionID: id, Err: err}) },
		SessionCreated: func(id string) {
			rec.add(hub.Event{Kind: hub.EventSessionCreated, SessionID: id})
		},
		SatisfactionFormFetched: func(id string) {
			rec.add(hub.Event{Kind: hub.EventSatisfactionFormFetched, SessionID: id})
		},
		ChatEnded: func(id string) { rec.add(hub.Event{Kind: hub.EventChatEnded, SessionID: id}) },
	})
	require.NoError(t, err)
	return h, rec
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

var errBackend = errors.New("backend unavailable")
