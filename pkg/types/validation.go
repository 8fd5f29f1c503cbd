package types

import (
	"regexp"
	"strings"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxBodyBytes = 65536

// Validate checks that an inbound or outbound message can enter the store.
func (m *ChatMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" || m.CreatedAt.IsZero() {
		return ErrInvalidMessage
	}
	if !IsValidSenderType(m.SenderType) {
		return ErrInvalidSender
	}
	if m.SenderID != "" && !IsValidUserID(m.SenderID) {
		return ErrInvalidSender
	}
	if !IsValidStatus(m.Status) {
		return ErrInvalidStatus
	}
	if len(m.Body) > maxBodyBytes {
		return ErrContentTooLarge
	}
	if m.Question != nil {
		if err := m.Question.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the minimal shape of a form question.
func (q *FormQuestion) Validate() error {
	if q.ID == "" {
		return ErrInvalidQuestion
	}
	switch q.Slot {
	case QuestionSlotIntake, QuestionSlotVolumeControl:
	default:
		return ErrInvalidQuestion
	}
	return nil
}

// IsValidUserID checks if a sender id meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidSenderType checks the sender type against the known set.
func IsValidSenderType(senderType string) bool {
	switch senderType {
	case SenderCustomer, SenderAgent, SenderBot:
		return true
	default:
		return false
	}
}

// IsValidStatus checks the delivery status. Empty is accepted and means sent.
func IsValidStatus(status DeliveryStatus) bool {
	switch status {
	case "", StatusPending, StatusSent, StatusFailed:
		return true
	default:
		return false
	}
}
