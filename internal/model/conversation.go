package model

import "time"

// Conversation is a 1:1 thread between the local user and one counterpart.
// Exactly one row exists per unordered pair of participants; duplicate
// creation attempts resolve to the existing row.
type Conversation struct {
	ID              string    `json:"id"`
	User1ID         string    `json:"user1_id"`
	User2ID         string    `json:"user2_id"`
	User1           *User     `json:"user1,omitempty"`
	User2           *User     `json:"user2,omitempty"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`

	// Derived locally, never persisted upstream.
	OtherUser   *User `json:"-"`
	UnreadCount int   `json:"-"`
}

// ResolveOther sets OtherUser to whichever joined participant is not
// currentUserID.
func (c *Conversation) ResolveOther(currentUserID string) {
	switch {
	case c.User1 != nil && c.User1.ID != currentUserID:
		c.OtherUser = c.User1
	case c.User2 != nil:
		c.OtherUser = c.User2
	}
}

// OtherUserID returns the counterpart's id, falling back to the raw
// participant columns when joined rows are missing.
func (c *Conversation) OtherUserID(currentUserID string) string {
	if c.OtherUser != nil {
		return c.OtherUser.ID
	}
	if c.User1ID != currentUserID {
		return c.User1ID
	}
	return c.User2ID
}
