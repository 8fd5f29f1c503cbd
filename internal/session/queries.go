package session

import (
	"time"

	"supportchat/pkg/types"
)

// SessionID returns the server-assigned id, or "" before assignment.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the lifecycle state.
func (c *Coordinator) State() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the session identity.
func (c *Coordinator) Session() types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.sessionLocked()
}

func (c *Coordinator) IsChatClosed() bool {
	return c.State() == types.StateClosed
}

// HasMore reports whether older history may exist on the backend.
func (c *Coordinator) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Messages returns the history, oldest first.
func (c *Coordinator) Messages() []types.ChatMessage {
	return c.store.Messages()
}

func (c *Coordinator) Message(id string) (types.ChatMessage, bool) {
	return c.store.Get(id)
}

func (c *Coordinator) LatestMessage() (types.ChatMessage, bool) {
	return c.store.LatestMessage()
}

func (c *Coordinator) UnreadCountAfterDate(date time.Time) int {
	return c.store.UnreadCountAfterDate(date)
}

func (c *Coordinator) IsAnyMessageByCurrentUser() bool {
	return c.store.IsAnyMessageByCurrentUser()
}

func (c *Coordinator) FirstOtherUserID() string {
	return c.store.FirstOtherUserID()
}

func (c *Coordinator) OtherUserIDs() []string {
	return c.store.OtherUserIDs()
}

func (c *Coordinator) DidAgentReply() bool {
	return c.store.DidAgentReply()
}

// CurrentQuestion returns the unanswered intake question, if any.
func (c *Coordinator) CurrentQuestion() *types.FormQuestion {
	return c.question(types.QuestionSlotIntake)
}

// VolumeControlCurrentQuestion returns the unanswered volume-control
// question, if any. It is evaluated independently of CurrentQuestion.
func (c *Coordinator) VolumeControlCurrentQuestion() *types.FormQuestion {
	return c.question(types.QuestionSlotVolumeControl)
}

func (c *Coordinator) question(slot string) *types.FormQuestion {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, answered := c.store.LatestQuestion(slot)
	if answered {
		return nil
	}
	return q
}

// ShouldPreventSendingMessage is true once the session closed or while a
// blocking question waits for an option.
func (c *Coordinator) ShouldPreventSendingMessage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preventSendingLocked()
}

func (c *Coordinator) preventSendingLocked() bool {
	if c.closed || c.state == types.StateClosed {
		return true
	}
	for _, q := range c.outstandingLocked() {
		if q.Blocking() {
			return true
		}
	}
	return false
}

// ShouldAllowAttachments is false while any question is outstanding.
func (c *Coordinator) ShouldAllowAttachments() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.preventSendingLocked() && len(c.outstandingLocked()) == 0
}

// ShouldShowSatisfactionForm is true only for a closed session whose
// satisfaction form is still unanswered.
func (c *Coordinator) ShouldShowSatisfactionForm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == types.StateClosed && c.satisfactionPending
}
