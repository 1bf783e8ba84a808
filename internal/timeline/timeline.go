// Package timeline holds the ordered message sequence for one open
// conversation. A single view owns it at a time; events are applied in
// receipt order on the dispatch goroutine.
package timeline

import (
	"context"
	"time"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/model"
	"go.uber.org/zap"
)

// ReadMarker persists the read flag for every unread message addressed to
// the current user in a conversation.
type ReadMarker interface {
	MarkAllRead(ctx context.Context, conversationID string) error
}

// Timeline is the per-conversation message sequence, strictly ascending by
// creation time with unique ids.
type Timeline struct {
	chatID string
	userID string
	client *backend.Client
	marker ReadMarker
	logger *zap.Logger

	msgs []model.Message
	ids  map[string]struct{}
}

// New creates an empty timeline for one conversation.
func New(chatID, currentUserID string, client *backend.Client, marker ReadMarker, logger *zap.Logger) *Timeline {
	return &Timeline{
		chatID: chatID,
		userID: currentUserID,
		client: client,
		marker: marker,
		logger: logger,
		ids:    make(map[string]struct{}),
	}
}

// Load fetches the full conversation history ascending by creation time,
// then marks everything addressed to the current user as read. The
// mark-as-read is fire-and-forget: a failure is logged, never surfaced.
func (t *Timeline) Load(ctx context.Context) error {
	var rows []model.Message
	f := backend.Where().Eq("chat_id", t.chatID).OrderAsc("created_at")
	if err := t.client.Select(ctx, "messages", f, &rows); err != nil {
		return err
	}

	now := time.Now()
	t.msgs = t.msgs[:0]
	t.ids = make(map[string]struct{}, len(rows))
	hasUnread := false
	for _, m := range rows {
		if m.Expired(now) {
			continue
		}
		t.msgs = append(t.msgs, m)
		t.ids[m.ID] = struct{}{}
		if !m.IsRead && m.ReceiverID == t.userID {
			hasUnread = true
		}
	}

	if hasUnread {
		if err := t.marker.MarkAllRead(ctx, t.chatID); err != nil {
			t.logger.Warn("mark-as-read after load failed", zap.String("chat_id", t.chatID), zap.Error(err))
		}
	}
	return nil
}

// Append applies a live insert. Messages from the current user are ignored:
// the send path already inserted them optimistically, and the feed echo
// would otherwise show them twice. Duplicate ids and expired vanish
// messages are ignored too. Reports whether the message was added.
func (t *Timeline) Append(msg model.Message) bool {
	if msg.SenderID == t.userID {
		return false
	}
	return t.insert(msg)
}

// AppendLocal applies the optimistic insert of the current user's own
// message, bypassing the sender-exclusion rule.
func (t *Timeline) AppendLocal(msg model.Message) bool {
	return t.insert(msg)
}

func (t *Timeline) insert(msg model.Message) bool {
	if _, dup := t.ids[msg.ID]; dup {
		return false
	}
	if msg.Expired(time.Now()) {
		return false
	}
	t.ids[msg.ID] = struct{}{}

	// Feed delivery follows server order, but a straggler with an older
	// creation time still lands in timestamp position.
	i := len(t.msgs)
	for i > 0 && t.msgs[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	t.msgs = append(t.msgs, model.Message{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = msg
	return true
}

// Update replaces a message in place by id. Updates for messages not in
// memory are tolerated as no-ops.
func (t *Timeline) Update(msg model.Message) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == msg.ID {
			t.msgs[i] = msg
			return true
		}
	}
	return false
}

// Remove deletes a message by id. No-op when absent.
func (t *Timeline) Remove(messageID string) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == messageID {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			delete(t.ids, messageID)
			return true
		}
	}
	return false
}

// Reset empties the timeline. Used by clear-history, which removes the
// messages but leaves the conversation itself in place.
func (t *Timeline) Reset() {
	t.msgs = t.msgs[:0]
	t.ids = make(map[string]struct{})
}

// Messages returns a copy of the ordered sequence.
func (t *Timeline) Messages() []model.Message {
	out := make([]model.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of messages held.
func (t *Timeline) Len() int { return len(t.msgs) }

// DayGroup is a contiguous run of messages sharing a calendar date.
type DayGroup struct {
	Date     time.Time // midnight, local time
	Messages []model.Message
}

// Groups partitions the sequence into date groups for display, preserving
// chronological order across and within groups.
func (t *Timeline) Groups() []DayGroup {
	var groups []DayGroup
	for _, m := range t.msgs {
		d := m.CreatedAt.Local()
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Messages: []model.Message{m}})
	}
	return groups
}
