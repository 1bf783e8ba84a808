package model

import "time"

// TypingSignal is the ephemeral per-(conversation, user) broadcast payload.
// It is never persisted and is always safe to drop.
type TypingSignal struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
	SentAt   time.Time `json:"timestamp"`
}
