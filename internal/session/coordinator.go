package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"supportchat/internal/hub"
	"supportchat/internal/metrics"
	"supportchat/internal/store"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

const defaultPageSize = 50

// Notifier queues listener events. *hub.Hub satisfies it.
type Notifier interface {
	Publish(ctx context.Context, event hub.Event) error
}

// Options wires a coordinator to its collaborators.
type Options struct {
	Transport    interfaces.Transport
	Notifier     Notifier
	Satisfaction interfaces.SatisfactionForms // optional
	Cache        interfaces.MessageCache      // optional
	Logger       zerolog.Logger
	PageSize     int
	Now          func() time.Time

	// OnSessionAssigned runs once the backend assigned the session id,
	// before listeners hear OnSessionCreated.
	OnSessionAssigned func(sessionID string)
}

// Coordinator is the handle of one conversation. It owns the message store
// and serializes every state change behind mu. Listener events are
// published only after mu is released.
type Coordinator struct {
	mu        sync.Mutex
	state     types.SessionState
	sessionID string
	formID    string
	createdAt time.Time
	closedAt  *time.Time

	store *store.Store

	transport    interfaces.Transport
	notifier     Notifier
	satisfaction interfaces.SatisfactionForms
	cache        interfaces.MessageCache
	onAssigned   func(string)

	outbox    []string            // ids awaiting submission, in call order
	staging   map[string]struct{} // queued ids whose pending cache write has not landed
	wake      chan struct{}
	creating  bool
	lastLocal time.Time

	satisfactionPending bool
	hasMore             bool
	pageSize            int

	ctx        context.Context
	cancel     context.CancelFunc
	work       sync.WaitGroup
	workerDone chan struct{}
	closed     bool

	now func() time.Time
	log zerolog.Logger
}

// NewForConversation returns a handle for a conversation that does not
// exist yet. It starts in PendingCreation; the backend session is created
// on the first send.
func NewForConversation(formID string, opts Options) (*Coordinator, error) {
	c, err := newCoordinator(opts)
	if err != nil {
		return nil, err
	}
	c.formID = formID
	c.state = types.StatePendingCreation
	c.start()
	return c, nil
}

// NewWithSessionID returns a handle for an existing session and restores
// its cached history. Entries still pending in the cache come back failed.
func NewWithSessionID(ctx context.Context, sessionID string, opts Options) (*Coordinator, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSessionID
	}
	c, err := newCoordinator(opts)
	if err != nil {
		return nil, err
	}
	c.sessionID = sessionID
	c.state = types.StateActive
	c.restore(ctx)
	c.start()

	if c.IsChatClosed() {
		c.work.Add(1)
		go func() {
			defer c.work.Done()
			c.fetchSatisfaction()
		}()
	}
	return c, nil
}

func newCoordinator(opts Options) (*Coordinator, error) {
	if opts.Transport == nil {
		return nil, ErrMissingTransport
	}
	if opts.Notifier == nil {
		return nil, ErrMissingNotifier
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	log := opts.Logger.With().Str("component", "session").Logger()
	return &Coordinator{
		store:        store.New(opts.Logger),
		transport:    opts.Transport,
		notifier:     opts.Notifier,
		satisfaction: opts.Satisfaction,
		cache:        opts.Cache,
		onAssigned:   opts.OnSessionAssigned,
		staging:      make(map[string]struct{}),
		wake:         make(chan struct{}, 1),
		hasMore:      true,
		pageSize:     opts.PageSize,
		ctx:          ctx,
		cancel:       cancel,
		workerDone:   make(chan struct{}),
		createdAt:    opts.Now(),
		now:          opts.Now,
		log:          log,
	}, nil
}

func (c *Coordinator) start() {
	go c.runOutbox()
}

func (c *Coordinator) restore(ctx context.Context) {
	if c.cache == nil {
		return
	}

	cached, err := c.cache.GetSession(ctx, c.sessionID)
	switch {
	case err == nil:
		c.formID = cached.FormID
		c.createdAt = cached.CreatedAt
		if cached.State == types.StateClosed {
			c.state = types.StateClosed
			c.closedAt = cached.ClosedAt
		}
	case errors.Is(err, interfaces.ErrSessionNotFound):
	default:
		c.log.Warn().Err(err).Str("session_id", c.sessionID).Msg("Failed to read cached session")
	}

	history, err := c.cache.GetSessionHistory(ctx, c.sessionID)
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", c.sessionID).Msg("Failed to read cached history")
		return
	}
	for i := range history {
		if history[i].Status == types.StatusPending {
			history[i].Status = types.StatusFailed
		}
	}
	changed := c.store.Upsert(history)
	metrics.MessagesUpserted.WithLabelValues("cache").Add(float64(len(changed)))
	c.log.Debug().Str("session_id", c.sessionID).Int("messages", len(changed)).Msg("Restored cached history")
}

// SendMessage adds an optimistic pending message and queues it for
// submission. While the session is being created the message waits in the
// outbox and is flushed, in call order, once the id is assigned.
func (c *Coordinator) SendMessage(ctx context.Context, text string, attachments []types.Attachment, value string) (types.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 && value == "" {
		return types.ChatMessage{}, types.ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ChatMessage{}, ErrCoordinatorClosed
	}
	if c.state == types.StateClosed {
		c.mu.Unlock()
		return types.ChatMessage{}, ErrSessionClosed
	}
	answers, err := c.answerTargetLocked(value)
	if err != nil {
		c.mu.Unlock()
		return types.ChatMessage{}, err
	}

	msg := types.ChatMessage{
		ID:                uuid.New().String(),
		SessionID:         c.sessionID,
		SenderType:        types.SenderCustomer,
		Body:              text,
		Attachments:       attachments,
		Value:             value,
		AnswersQuestionID: answers,
		CreatedAt:         c.nextLocalTimeLocked(),
		Status:            types.StatusPending,
	}
	if err := msg.Validate(); err != nil {
		c.mu.Unlock()
		return types.ChatMessage{}, err
	}

	c.store.Upsert([]types.ChatMessage{msg})
	c.staging[msg.ID] = struct{}{}
	startCreation := c.enqueueLocked(msg.ID)
	c.mu.Unlock()

	metrics.MessagesUpserted.WithLabelValues("local").Inc()
	c.persist(ctx, msg)
	c.release(msg.ID)
	if startCreation {
		go c.createSession()
	}

	c.notify(hub.EventContentChange, nil)
	return msg, nil
}

// Resend re-queues a failed message. The message keeps its id, so the
// store never holds a duplicate.
func (c *Coordinator) Resend(ctx context.Context, messageID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}
	if c.state == types.StateClosed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	msg, ok := c.store.Get(messageID)
	if !ok {
		c.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.Status != types.StatusFailed {
		c.mu.Unlock()
		return ErrNotResendable
	}

	updated, _ := c.store.SetStatus(messageID, types.StatusPending)
	c.staging[messageID] = struct{}{}
	startCreation := c.enqueueLocked(messageID)
	c.mu.Unlock()

	c.persist(ctx, updated)
	c.release(messageID)
	if startCreation {
		go c.createSession()
	}

	c.notify(hub.EventContentChange, nil)
	return nil
}

// nextLocalTimeLocked keeps local messages strictly increasing so that
// rapid sends display in call order.
func (c *Coordinator) nextLocalTimeLocked() time.Time {
	ts := c.now()
	if !ts.After(c.lastLocal) {
		ts = c.lastLocal.Add(time.Nanosecond)
	}
	c.lastLocal = ts
	return ts
}

// enqueueLocked appends to the outbox and reports whether the caller must
// start session creation.
func (c *Coordinator) enqueueLocked(messageID string) bool {
	if c.closed {
		c.store.SetStatus(messageID, types.StatusFailed)
		return false
	}
	c.outbox = append(c.outbox, messageID)
	c.work.Add(1)

	switch c.state {
	case types.StateNoSession, types.StatePendingCreation:
		c.transitionLocked(types.StatePendingCreation)
		if c.creating {
			return false
		}
		c.creating = true
		c.work.Add(1)
		return true
	default:
		c.signal()
		return false
	}
}

// release lets the outbox worker submit a message whose pending copy is
// cached.
func (c *Coordinator) release(messageID string) {
	c.mu.Lock()
	delete(c.staging, messageID)
	c.mu.Unlock()
	c.signal()
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) transitionLocked(to types.SessionState) {
	if c.state == to {
		return
	}
	c.log.Debug().
		Str("session_id", c.sessionID).
		Str("from", c.state.String()).
		Str("to", to.String()).
		Msg("Session state changed")
	c.state = to
	metrics.SessionTransitions.WithLabelValues(to.String()).Inc()
}

// failQueuedLocked marks every queued message failed and empties the outbox.
func (c *Coordinator) failQueuedLocked() []types.ChatMessage {
	failed := make([]types.ChatMessage, 0, len(c.outbox))
	for _, id := range c.outbox {
		if msg, ok := c.store.SetStatus(id, types.StatusFailed); ok {
			failed = append(failed, msg)
		}
		metrics.SendsTotal.WithLabelValues("failed").Inc()
		c.work.Done()
	}
	c.outbox = nil
	return failed
}

func (c *Coordinator) createSession() {
	defer c.work.Done()

	session, err := c.transport.CreateSession(c.ctx, c.formID)
	if err == nil && (session == nil || session.ID == "") {
		err = errors.New("backend returned no session id")
	}

	c.mu.Lock()
	c.creating = false
	if err != nil || c.closed {
		failed := c.failQueuedLocked()
		c.mu.Unlock()

		if err == nil {
			err = ErrCoordinatorClosed
		}
		err = fmt.Errorf("%w: %w", types.ErrSessionCreationFailed, err)
		c.log.Warn().Err(err).Int("queued", len(failed)).Msg("Session creation failed")
		c.persist(context.WithoutCancel(c.ctx), failed...)
		c.notify(hub.EventContentChange, nil)
		c.notify(hub.EventError, err)
		return
	}

	c.sessionID = session.ID
	c.createdAt = c.now()
	if c.state == types.StateClosed {
		// Closed while the request was in flight. Keep the id, never reopen.
		failed := c.failQueuedLocked()
		snapshot := c.sessionLocked()
		c.mu.Unlock()

		c.log.Info().Str("session_id", session.ID).Int("failed", len(failed)).Msg("Session created after closure")
		c.saveSession(snapshot)
		c.persist(c.ctx, failed...)
		if len(failed) > 0 {
			c.notify(hub.EventContentChange, nil)
		}
		c.notify(hub.EventSessionCreated, nil)
		c.fetchSatisfaction()
		return
	}
	c.transitionLocked(types.StateActive)
	snapshot := c.sessionLocked()
	c.mu.Unlock()

	c.log.Info().Str("session_id", session.ID).Msg("Session created")
	c.saveSession(snapshot)
	if c.onAssigned != nil {
		c.onAssigned(session.ID)
	}
	c.notify(hub.EventSessionCreated, nil)
	c.signal()
}

func (c *Coordinator) runOutbox() {
	defer close(c.workerDone)

	for {
		select {
		case <-c.ctx.Done():
			c.mu.Lock()
			failed := c.failQueuedLocked()
			c.mu.Unlock()
			c.persist(context.WithoutCancel(c.ctx), failed...)
			return

		case <-c.wake:
			c.drainOutbox()
		}
	}
}

func (c *Coordinator) drainOutbox() {
	for c.ctx.Err() == nil {
		c.mu.Lock()
		if c.state == types.StateClosed && len(c.outbox) > 0 {
			failed := c.failQueuedLocked()
			c.mu.Unlock()
			c.persist(c.ctx, failed...)
			c.notify(hub.EventContentChange, nil)
			return
		}
		if c.state != types.StateActive || len(c.outbox) == 0 {
			c.mu.Unlock()
			return
		}
		id := c.outbox[0]
		if _, staged := c.staging[id]; staged {
			c.mu.Unlock()
			return
		}

		c.outbox = c.outbox[1:]
		msg, ok := c.store.Get(id)
		sessionID := c.sessionID
		c.mu.Unlock()

		if ok {
			msg.SessionID = sessionID
			c.submit(msg)
		}
		c.work.Done()
	}
}

// submit delivers one message and swaps the local copy for the server copy.
func (c *Coordinator) submit(msg types.ChatMessage) {
	outgoing := msg
	server, err := c.transport.SubmitMessage(c.ctx, &outgoing)
	if err != nil {
		metrics.SendsTotal.WithLabelValues("failed").Inc()
		c.log.Warn().Err(err).Str("session_id", msg.SessionID).Str("message_id", msg.ID).Msg("Message send failed")

		c.mu.Lock()
		failed, ok := c.store.SetStatus(msg.ID, types.StatusFailed)
		c.mu.Unlock()
		if ok {
			c.persist(c.ctx, failed)
			c.notify(hub.EventContentChange, nil)
		}
		return
	}
	metrics.SendsTotal.WithLabelValues("sent").Inc()

	result := outgoing
	if server != nil {
		result = *server
	}
	if result.ID == "" {
		result.ID = msg.ID
	}
	if result.SessionID == "" {
		result.SessionID = msg.SessionID
	}
	if result.SenderType == "" {
		result.SenderType = msg.SenderType
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = msg.CreatedAt
	}
	result.Status = types.StatusSent

	c.mu.Lock()
	replaced := result.ID != msg.ID && c.store.Remove(msg.ID)
	changed := c.store.Upsert([]types.ChatMessage{result})
	c.mu.Unlock()

	metrics.MessagesUpserted.WithLabelValues("send").Add(float64(len(changed)))
	if replaced && c.cache != nil {
		if err := c.cache.DeleteMessage(c.ctx, msg.ID); err != nil {
			c.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to drop replaced message from cache")
		}
	}
	c.persist(c.ctx, changed...)
	if replaced || len(changed) > 0 {
		c.notify(hub.EventContentChange, nil)
	}
}

// EndChat closes the session on the backend. completion runs once with the
// outcome; on failure the session stays active.
func (c *Coordinator) EndChat(ctx context.Context, reason string, completion func(success bool)) {
	done := func(ok bool) {
		if completion != nil {
			completion(ok)
		}
	}

	c.mu.Lock()
	if c.closed || c.state != types.StateActive {
		state := c.state
		c.mu.Unlock()
		c.log.Debug().Str("state", state.String()).Msg("End chat ignored")
		done(false)
		return
	}
	sessionID := c.sessionID
	c.work.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.work.Done()

		if err := c.transport.EndChat(ctx, sessionID, reason); err != nil {
			c.log.Warn().Err(err).Str("session_id", sessionID).Msg("End chat failed")
			done(false)
			return
		}

		c.mu.Lock()
		changed := c.closeLocked()
		c.mu.Unlock()

		done(true)
		if changed {
			c.afterClosed()
		}
	}()
}

// MarkClosed records a closure initiated by the backend.
func (c *Coordinator) MarkClosed() {
	c.mu.Lock()
	changed := c.closeLocked()
	if changed {
		c.work.Add(1)
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	go func() {
		defer c.work.Done()
		c.afterClosed()
	}()
}

func (c *Coordinator) closeLocked() bool {
	if c.state == types.StateClosed {
		return false
	}
	now := c.now()
	c.closedAt = &now
	c.transitionLocked(types.StateClosed)
	return true
}

func (c *Coordinator) afterClosed() {
	c.mu.Lock()
	snapshot := c.sessionLocked()
	c.mu.Unlock()

	c.log.Info().Str("session_id", snapshot.ID).Msg("Session closed")
	if snapshot.ID != "" {
		c.saveSession(snapshot)
	}
	c.signal()
	c.notify(hub.EventChatEnded, nil)
	c.fetchSatisfaction()
}

func (c *Coordinator) fetchSatisfaction() {
	if c.satisfaction == nil {
		return
	}
	sessionID := c.SessionID()
	if sessionID == "" {
		return
	}

	pending, err := c.satisfaction.Pending(c.ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("%w: satisfaction form: %w", types.ErrFetchFailed, err)
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("Satisfaction form lookup failed")
		c.notify(hub.EventError, err)
		return
	}

	c.mu.Lock()
	c.satisfactionPending = pending
	c.mu.Unlock()
	c.notify(hub.EventSatisfactionFormFetched, nil)
}

// FetchLatest loads the newest page of history.
func (c *Coordinator) FetchLatest(ctx context.Context) error {
	return c.fetchPage(ctx, time.Time{})
}

// FetchOlder loads the page before the oldest known message. It is a
// no-op once the backend reported no more history.
func (c *Coordinator) FetchOlder(ctx context.Context) error {
	c.mu.Lock()
	hasMore := c.hasMore
	c.mu.Unlock()
	if !hasMore {
		c.notify(hub.EventLoad, nil)
		return nil
	}

	oldest, ok := c.store.Oldest()
	if !ok {
		return c.fetchPage(ctx, time.Time{})
	}
	return c.fetchPage(ctx, oldest.CreatedAt)
}

func (c *Coordinator) fetchPage(ctx context.Context, before time.Time) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		c.notify(hub.EventLoad, nil)
		return nil
	}

	page, err := c.transport.FetchMessages(ctx, sessionID, types.Page{Before: before, Limit: c.pageSize})
	if err != nil {
		err = fmt.Errorf("%w: %w", types.ErrFetchFailed, err)
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("History fetch failed")
		c.notify(hub.EventError, err)
		return err
	}

	c.mu.Lock()
	changed := c.store.Upsert(page.Messages)
	c.hasMore = page.HasMore
	c.mu.Unlock()

	metrics.MessagesUpserted.WithLabelValues("fetch").Add(float64(len(changed)))
	c.persist(ctx, changed...)
	if len(changed) > 0 {
		c.notify(hub.EventContentChange, nil)
	}
	c.notify(hub.EventLoad, nil)
	return nil
}

// UpsertNewMessages merges messages delivered by push or polling and
// returns the entries that changed.
func (c *Coordinator) UpsertNewMessages(messages []types.ChatMessage) []types.ChatMessage {
	c.mu.Lock()
	changed := c.store.Upsert(messages)
	c.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}
	metrics.MessagesUpserted.WithLabelValues("remote").Add(float64(len(changed)))
	c.persist(c.ctx, changed...)
	c.notify(hub.EventContentChange, nil)
	return changed
}

func (c *Coordinator) saveSession(session *types.Session) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SaveSession(c.ctx, session); err != nil {
		c.log.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to cache session")
	}
}

func (c *Coordinator) persist(ctx context.Context, messages ...types.ChatMessage) {
	if c.cache == nil || len(messages) == 0 {
		return
	}
	if err := c.cache.StoreMessages(ctx, messages); err != nil {
		c.log.Warn().Err(err).Int("messages", len(messages)).Msg("Failed to cache messages")
	}
}

func (c *Coordinator) notify(kind hub.EventKind, err error) {
	event := hub.Event{Kind: kind, SessionID: c.SessionID(), Err: err}
	if pubErr := c.notifier.Publish(c.ctx, event); pubErr != nil {
		c.log.Debug().Err(pubErr).Str("event", string(kind)).Msg("Dropped listener event")
	}
}

func (c *Coordinator) sessionLocked() *types.Session {
	return &types.Session{
		ID:        c.sessionID,
		FormID:    c.formID,
		State:     c.state,
		CreatedAt: c.createdAt,
		ClosedAt:  c.closedAt,
	}
}

// outstandingLocked returns the unanswered question of each slot, intake
// first.
func (c *Coordinator) outstandingLocked() []*types.FormQuestion {
	var out []*types.FormQuestion
	for _, slot := range []string{types.QuestionSlotIntake, types.QuestionSlotVolumeControl} {
		if q, answered := c.store.LatestQuestion(slot); q != nil && !answered {
			out = append(out, q)
		}
	}
	return out
}

// answerTargetLocked picks the question an outgoing message answers.
// A blocking question only accepts one of its options as value.
func (c *Coordinator) answerTargetLocked(value string) (string, error) {
	questions := c.outstandingLocked()
	if len(questions) == 0 {
		return "", nil
	}
	for _, q := range questions {
		if q.Blocking() {
			if !slices.Contains(q.Options, value) {
				return "", ErrAnswerRequired
			}
			return q.ID, nil
		}
	}
	return questions[0].ID, nil
}

// Wait blocks until every queued message was submitted or failed and all
// background calls returned.
func (c *Coordinator) Wait() {
	c.work.Wait()
}

// Close cancels in-flight calls and fails whatever is still queued.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	<-c.workerDone
	c.work.Wait()
	return nil
}
