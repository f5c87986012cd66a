package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Conversation is a named thread of messages owned by one user.
type Conversation struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const maxTitleLength = 50

// TitleFromMessage derives a conversation title from the first user message,
// truncated to 50 characters with an ellipsis when longer.
func TitleFromMessage(message string) string {
	if utf8.RuneCountInString(message) <= maxTitleLength {
		return message
	}
	runes := []rune(message)
	return string(runes[:maxTitleLength]) + "..."
}

// NewConversation creates a new Conversation instance
func NewConversation(id, ownerID, title string, createdAt time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// ValidateConversation validates a Conversation instance
func ValidateConversation(c *Conversation) error {
	if c == nil {
		return fmt.Errorf("conversation cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("conversation ID is required")
	}

	if c.OwnerID == "" {
		return fmt.Errorf("conversation OwnerID is required")
	}

	return nil
}
