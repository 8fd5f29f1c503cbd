package types

import (
	"bytes"
	"slices"
	"time"
)

// Sender types. The customer is always the current user of the SDK.
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderBot      = "bot"
)

// DeliveryStatus tracks an outgoing message through the transport.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// SessionState is the lifecycle of a single conversation handle.
type SessionState int

const (
	StateNoSession SessionState = iota
	StatePendingCreation
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StatePendingCreation:
		return "pending_creation"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Question types and slots used by structured intake flows.
const (
	QuestionTypeMessage  = "message"
	QuestionTypeEmail    = "email"
	QuestionTypePhone    = "phone"
	QuestionTypeOption   = "option"
	QuestionTypeFollowup = "followup"

	QuestionSlotIntake        = "intake"
	QuestionSlotVolumeControl = "volume_control"
)

// FormQuestion is a single prompt of an intake or volume-control flow.
type FormQuestion struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
	Slot    string   `json:"slot"`
}

// Blocking reports whether free text cannot answer the question.
func (q *FormQuestion) Blocking() bool {
	return q != nil && q.Type == QuestionTypeOption && len(q.Options) > 0
}

// Attachment is an already-decoded image sent along with a message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// ChatMessage is one entry of a conversation.
// Messages are ordered by (CreatedAt, ID); ID never changes across upserts.
type ChatMessage struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"session_id"`
	SenderID          string         `json:"sender_id,omitempty"`
	SenderType        string         `json:"sender_type"`
	Body              string         `json:"body"`
	Attachments       []Attachment   `json:"attachments,omitempty"`
	Value             string         `json:"value,omitempty"`
	Question          *FormQuestion  `json:"question,omitempty"`
	AnswersQuestionID string         `json:"answers_question_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	Status            DeliveryStatus `json:"status"`
}

// ByCurrentUser reports whether the message was authored by the SDK user.
func (m *ChatMessage) ByCurrentUser() bool {
	return m.SenderType == SenderCustomer
}

// Before orders messages by timestamp with id as the tie-break.
func (m *ChatMessage) Before(other *ChatMessage) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Equal compares every observable field of two messages.
func (m *ChatMessage) Equal(other *ChatMessage) bool {
	if m.ID != other.ID || m.SessionID != other.SessionID ||
		m.SenderID != other.SenderID || m.SenderType != other.SenderType ||
		m.Body != other.Body || m.Value != other.Value ||
		m.AnswersQuestionID != other.AnswersQuestionID ||
		m.Status != other.Status || !m.CreatedAt.Equal(other.CreatedAt) {
		return false
	}
	if !questionsEqual(m.Question, other.Question) {
		return false
	}
	if len(m.Attachments) != len(other.Attachments) {
		return false
	}
	for i := range m.Attachments {
		a, b := m.Attachments[i], other.Attachments[i]
		if a.Name != b.Name || a.ContentType != b.ContentType || string(a.Data) != string(b.Data) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy that shares no slices with m.
func (m *ChatMessage) Clone() ChatMessage {
	out := *m
	if m.Attachments != nil {
		out.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Data = bytes.Clone(a.Data)
			out.Attachments[i] = a
		}
	}
	if m.Question != nil {
		q := *m.Question
		q.Options = slices.Clone(q.Options)
		out.Question = &q
	}
	return out
}

func questionsEqual(a, b *FormQuestion) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Prompt != b.Prompt || a.Type != b.Type || a.Slot != b.Slot || len(a.Options) != len(b.Options) {
		return false
	}
	for i := range a.Options {
		if a.Options[i] != b.Options[i] {
			return false
		}
	}
	return true
}

// Session is the persisted identity of a conversation.
type Session struct {
	ID        string       `json:"id"`
	FormID    string       `json:"form_id,omitempty"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
}

// TypingStatus is the composing state of a participant.
type TypingStatus string

const (
	TypingActive TypingStatus = "typing"
	TypingPaused TypingStatus = "paused"
)

// TypingEvent is the raw inbound signal delivered by a push collaborator.
type TypingEvent struct {
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id"`
	Status    TypingStatus `json:"status"`
}

// TypingIndicator is an ephemeral, timestamped view of a TypingEvent.
type TypingIndicator struct {
	SessionID  string       `json:"session_id"`
	UserID     string       `json:"user_id"`
	Status     TypingStatus `json:"status"`
	ReceivedAt time.Time    `json:"received_at"`
}

// IsActive reports whether the participant is typing and the signal is
// younger than staleAfter at now.
func (t TypingIndicator) IsActive(now time.Time, staleAfter time.Duration) bool {
	if t.Status != TypingActive {
		return false
	}
	return now.Sub(t.ReceivedAt) < staleAfter
}

// Page is a pagination cursor for message history.
type Page struct {
	Before time.Time
	Limit  int
}

// MessagePage is one page of history returned by the transport.
type MessagePage struct {
	Messages []ChatMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

// QueueStatus is the last polled position of a session in the agent queue.
type QueueStatus struct {
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
