package domain

import (
	"fmt"
	"time"
)

// MessageRole represents the author of a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Source is a citation attached to an assistant message produced via
// retrieval: which document the answer drew on, where, and an excerpt.
type Source struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Page         int     `json:"page"`
	Excerpt      string  `json:"excerpt"`
	Similarity   float64 `json:"similarity"`
}

// Message belongs to one conversation. Messages are created in chronological
// order and never mutated. ErrorTag carries a machine-readable cause on
// degraded assistant responses (no_context, provider failures).
type Message struct {
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	Sources        []Source
	ErrorTag       string
	CreatedAt      time.Time
}

// ValidateMessage validates a Message instance
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}

	if m.ID == "" {
		return fmt.Errorf("message ID is required")
	}

	if m.ConversationID == "" {
		return fmt.Errorf("message ConversationID is required")
	}

	if m.Content == "" {
		return fmt.Errorf("message Content is required")
	}

	if !isValidMessageRole(m.Role) {
		return ErrInvalidMessageRole
	}

	if m.Role == MessageRoleUser && len(m.Sources) > 0 {
		return fmt.Errorf("user messages cannot carry sources")
	}

	return nil
}

// isValidMessageRole checks if a MessageRole is valid
func isValidMessageRole(r MessageRole) bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant:
		return true
	}
	return false
}
