package store

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"supportchat/internal/metrics"
	"supportchat/pkg/types"
)

// Store is the ordered, deduplicated message list of one session.
// Messages are kept sorted ascending by (CreatedAt, ID).
type Store struct {
	mu       sync.RWMutex
	messages []*types.ChatMessage          // sorted
	byID     map[string]*types.ChatMessage // id -> entry in messages
	log      zerolog.Logger
}

// New creates an empty store.
func New(log zerolog.Logger) *Store {
	return &Store{
		byID: make(map[string]*types.ChatMessage),
		log:  log.With().Str("component", "store").Logger(),
	}
}

// Upsert inserts new messages and replaces existing ones sharing an id.
// Malformed entries are skipped without aborting the batch. The returned
// slice holds the entries whose observable state changed.
func (s *Store) Upsert(messages []types.ChatMessage) []types.ChatMessage {
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []types.ChatMessage
	for i := range messages {
		msg := messages[i]
		if msg.Status == "" {
			msg.Status = types.StatusSent
		}
		if err := msg.Validate(); err != nil {
			metrics.MessagesRejected.Inc()
			s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Skipping malformed message")
			continue
		}

		if existing, ok := s.byID[msg.ID]; ok {
			if existing.Equal(&msg) {
				continue
			}
			s.removeLocked(existing)
		}

		stored := msg.Clone()
		s.insertLocked(&stored)
		changed = append(changed, stored.Clone())
	}

	return changed
}

// Remove deletes a message by id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[id]
	if !ok {
		return false
	}
	s.removeLocked(existing)
	return true
}

// SetStatus updates the delivery status of a message in place.
func (s *Store) SetStatus(id string, status types.DeliveryStatus) (types.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[id]
	if !ok {
		return types.ChatMessage{}, false
	}
	existing.Status = status
	return existing.Clone(), true
}

// insertLocked places msg at its sorted position.
func (s *Store) insertLocked(msg *types.ChatMessage) {
	idx := sort.Search(len(s.messages), func(i int) bool {
		return msg.Before(s.messages[i])
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[idx+1:], s.messages[idx:])
	s.messages[idx] = msg
	s.byID[msg.ID] = msg
}

// removeLocked drops msg, found by binary search on its sort key.
func (s *Store) removeLocked(msg *types.ChatMessage) {
	idx := sort.Search(len(s.messages), func(i int) bool {
		return !s.messages[i].Before(msg)
	})
	if idx < len(s.messages) && s.messages[idx] == msg {
		s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	}
	delete(s.byID, msg.ID)
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (types.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return types.ChatMessage{}, false
	}
	return msg.Clone(), true
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns a copy of the list, oldest first.
func (s *Store) Messages() []types.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ChatMessage, len(s.messages))
	for i, msg := range s.messages {
		out[i] = msg.Clone()
	}
	return out
}

// LatestMessage returns the message with the greatest (CreatedAt, ID).
func (s *Store) LatestMessage() (types.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return types.ChatMessage{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Oldest returns the message with the smallest (CreatedAt, ID).
func (s *Store) Oldest() (types.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return types.ChatMessage{}, false
	}
	return s.messages[0].Clone(), true
}

// UnreadCountAfterDate counts messages created strictly after date.
func (s *Store) UnreadCountAfterDate(date time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(date)
	})
	return len(s.messages) - idx
}

// IsAnyMessageByCurrentUser reports whether the customer sent anything.
func (s *Store) IsAnyMessageByCurrentUser() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.ByCurrentUser() {
			return true
		}
	}
	return false
}

// DidAgentReply reports whether a human agent wrote in the session.
func (s *Store) DidAgentReply() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.SenderType == types.SenderAgent {
			return true
		}
	}
	return false
}

// FirstOtherUserID returns the first participant other than the current
// user, or "" when nobody else has written.
func (s *Store) FirstOtherUserID() string {
	ids := s.OtherUserIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// OtherUserIDs returns unique sender ids of other participants in the
// order they first appear in the history.
func (s *Store) OtherUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, msg := range s.messages {
		if msg.ByCurrentUser() || msg.SenderID == "" || seen[msg.SenderID] {
			continue
		}
		seen[msg.SenderID] = true
		ids = append(ids, msg.SenderID)
	}
	return ids
}

// LatestQuestion walks back from the newest message to the last one asking
// a question of the given slot, and reports whether a later message by the
// current user answered it.
func (s *Store) LatestQuestion(slot string) (*types.FormQuestion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	answered := make(map[string]bool)
	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		if msg.ByCurrentUser() && msg.AnswersQuestionID != "" {
			answered[msg.AnswersQuestionID] = true
			continue
		}
		if msg.Question != nil && msg.Question.Slot == slot {
			q := *msg.Question
			q.Options = slices.Clone(q.Options)
			return &q, answered[q.ID]
		}
	}
	return nil, false
}
