package model

import (
	"time"
	"unicode/utf8"
)

const previewLimit = 50

// Message is a single chat event. The id is client-generated at send time;
// the server echo carries the same id, which is what makes optimistic
// inserts and live-feed applies idempotent.
type Message struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chat_id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Content    string      `json:"content"`
	Type       MessageType `json:"message_type"`
	CreatedAt  time.Time   `json:"created_at"`
	IsRead     bool        `json:"is_read"`
	EditedAt   *time.Time  `json:"edited_at,omitempty"`
	ReplyTo    string      `json:"reply_to,omitempty"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
}

// Expired reports whether the message carries a vanish deadline in the past.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// Preview returns the chat-list preview text for the message, at most 50
// characters. Structured payloads get a short label instead of raw JSON.
func (m *Message) Preview() string {
	c, err := m.DecodeContent()
	if err != nil {
		return truncate(m.Content, previewLimit)
	}
	switch v := c.(type) {
	case TextContent:
		return truncate(v.Body, previewLimit)
	case MediaContent:
		if v.Caption != "" {
			return truncate(v.Caption, previewLimit)
		}
		return "[" + string(v.Type) + "]"
	case NewsShareContent:
		return truncate(v.Title, previewLimit)
	case ReminderContent:
		return truncate("Reminder: "+v.Title, previewLimit)
	default:
		return truncate(m.Content, previewLimit)
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
