package polling

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

type mockTransport struct {
	mu           sync.Mutex
	fetches      atomic.Int32
	queueFetches atomic.Int32
	fetchErrs    int // fail this many fetches first
	messages     []types.ChatMessage
	queue        *types.QueueStatus
}

func (m *mockTransport) CreateSession(ctx context.Context, formID string) (*types.Session, error) {
	return nil, errors.New("not used")
}
func (m *mockTransport) SubmitMessage(ctx context.Context, msg *types.ChatMessage) (*types.ChatMessage, error) {
	return nil, errors.New("not used")
}
func (m *mockTransport) EndChat(ctx context.Context, sessionID, reason string) error {
	return errors.New("not used")
}

func (m *mockTransport) FetchMessages(ctx context.Context, sessionID string, page types.Page) (*types.MessagePage, error) {
	m.fetches.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErrs > 0 {
		m.fetchErrs--
		return nil, errors.New("503")
	}
	if !page.Before.IsZero() {
		return nil, errors.New("poller must fetch the newest page")
	}
	return &types.MessagePage{Messages: m.messages}, nil
}

func (m *mockTransport) FetchQueueStatus(ctx context.Context, sessionID string) (*types.QueueStatus, error) {
	m.queueFetches.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue, nil
}

type mockTarget struct {
	mu       sync.Mutex
	id       string
	received []types.ChatMessage
	replied  bool
	closed   bool
}

func (m *mockTarget) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *mockTarget) UpsertNewMessages(messages []types.ChatMessage) []types.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, messages...)
	return messages
}

func (m *mockTarget) DidAgentReply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replied
}

func (m *mockTarget) IsChatClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTarget) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func fastConfig() Config {
	return Config{Interval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, PageSize: 10}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, &mockTarget{}, Config{}, zerolog.Nop())
	assert.Equal(t, ErrMissingTransport, err)
	_, err = NewManager(&mockTransport{}, nil, Config{}, zerolog.Nop())
	assert.Equal(t, ErrMissingTarget, err)
}

func TestManager_PollOnce(t *testing.T) {
	transport := &mockTransport{
		messages: []types.ChatMessage{{ID: "m1"}},
		queue:    &types.QueueStatus{Position: 3, EstimatedWait: time.Minute},
	}
	target := &mockTarget{id: "s1"}
	m, err := NewManager(transport, target, fastConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, m.PollOnce(context.Background()))
	assert.Equal(t, 1, target.count())
	status, ok := m.QueueStatus()
	require.True(t, ok)
	assert.Equal(t, 3, status.Position)
	assert.False(t, m.LastPoll().IsZero())

	target.mu.Lock()
	target.replied = true
	target.mu.Unlock()
	require.NoError(t, m.PollOnce(context.Background()))
	assert.Equal(t, int32(1), transport.queueFetches.Load(), "queue polling stops once an agent replied")
}

func TestManager_PollOnceWithoutSessionIsNoop(t *testing.T) {
	transport := &mockTransport{}
	m, err := NewManager(transport, &mockTarget{}, fastConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, m.PollOnce(context.Background()))
	assert.Equal(t, int32(0), transport.fetches.Load())
}

func TestManager_PollOnceReportsFetchErrors(t *testing.T) {
	m, err := NewManager(&mockTransport{fetchErrs: 1}, &mockTarget{id: "s1"}, fastConfig(), zerolog.Nop())
	require.NoError(t, err)

	err = m.PollOnce(context.Background())
	assert.ErrorIs(t, err, types.ErrFetchFailed)
	assert.ErrorIs(t, m.LastError(), types.ErrFetchFailed)
}

func TestManager_StartStop(t *testing.T) {
	transport := &mockTransport{messages: []types.ChatMessage{{ID: "m1"}}, queue: &types.QueueStatus{}}
	m, err := NewManager(transport, &mockTarget{id: "s1"}, fastConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, ErrAlreadyRunning, m.Start(ctx))

	require.Eventually(t, func() bool { return transport.fetches.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.Equal(t, ErrNotRunning, m.Stop())
}

func TestManager_RecoversAfterErrors(t *testing.T) {
	transport := &mockTransport{fetchErrs: 3, messages: []types.ChatMessage{{ID: "m1"}}, queue: &types.QueueStatus{}}
	target := &mockTarget{id: "s1"}
	m, err := NewManager(transport, target, fastConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop() }()

	require.Eventually(t, func() bool {
		return target.count() > 0 && m.LastError() == nil
	}, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, transport.fetches.Load(), int32(4))
}

func TestManager_StopsWhenSessionCloses(t *testing.T) {
	target := &mockTarget{id: "s1", closed: true}
	transport := &mockTransport{}
	m, err := NewManager(transport, target, fastConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return !m.IsRunning() }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), transport.fetches.Load())
}
