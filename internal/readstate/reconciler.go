// Package readstate decides when accumulated unread messages are marked
// read, based on the viewport's scroll position and explicit view events.
package readstate

import (
	"context"
	"time"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/model"
	"go.uber.org/zap"
)

// AtBottomThreshold is the scroll distance, in display units, within which
// the viewport counts as resting on the latest message.
const AtBottomThreshold = 50

// ReadMarker persists the read flag upstream.
type ReadMarker interface {
	MarkAllRead(ctx context.Context, conversationID string) error
}

// Reconciler tracks the at-bottom state and the unread badge for one open
// conversation view.
type Reconciler struct {
	chatID string
	userID string
	marker ReadMarker
	bus    *bus.Bus
	logger *zap.Logger

	atBottom bool
	unread   int
	dirty    bool // a mark-as-read failed; retry on the next transition
}

// New creates a reconciler. A freshly opened view starts at the bottom.
func New(chatID, currentUserID string, marker ReadMarker, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		chatID:   chatID,
		userID:   currentUserID,
		marker:   marker,
		bus:      b,
		logger:   logger,
		atBottom: true,
	}
}

// SetScrollDistance reports the viewport's distance from the latest
// message. Transitioning into the at-bottom band flushes the unread
// counter and issues one mark-as-read call covering everything pending.
func (r *Reconciler) SetScrollDistance(ctx context.Context, distance int) {
	was := r.atBottom
	r.atBottom = distance <= AtBottomThreshold
	if !was && r.atBottom {
		r.flush(ctx)
	}
}

// ScrollToLatest is the explicit jump-to-newest action.
func (r *Reconciler) ScrollToLatest(ctx context.Context) {
	r.SetScrollDistance(ctx, 0)
}

// OnIncoming applies a counterpart message that was just appended. While
// at bottom it is marked read immediately and the badge stays at zero;
// otherwise it only bumps the local counter.
func (r *Reconciler) OnIncoming(ctx context.Context, msg model.Message) {
	if msg.SenderID == r.userID || msg.ReceiverID != r.userID {
		return
	}
	if !r.atBottom {
		r.unread++
		return
	}
	if err := r.marker.MarkAllRead(ctx, r.chatID); err != nil {
		r.dirty = true
		r.logger.Warn("mark-as-read failed", zap.String("chat_id", r.chatID), zap.Error(err))
	}
}

// Unread returns the current badge value.
func (r *Reconciler) Unread() int { return r.unread }

// AtBottom reports whether the viewport rests on the latest message.
func (r *Reconciler) AtBottom() bool { return r.atBottom }

func (r *Reconciler) flush(ctx context.Context) {
	if r.unread == 0 && !r.dirty {
		return
	}
	r.unread = 0
	if err := r.marker.MarkAllRead(ctx, r.chatID); err != nil {
		// No dedicated retry loop: the next qualifying transition tries again.
		r.dirty = true
		r.logger.Warn("mark-as-read flush failed", zap.String("chat_id", r.chatID), zap.Error(err))
		return
	}
	r.dirty = false
	r.bus.Publish(bus.Event{Kind: bus.KindReadFlushed, Timestamp: time.Now(), Payload: r.chatID})
}

// Marker is the backend-backed ReadMarker: one update call flips the read
// flag on every unread message addressed to the user in the conversation.
type Marker struct {
	client *backend.Client
	userID string
}

// NewMarker creates a marker for the current user.
func NewMarker(client *backend.Client, currentUserID string) *Marker {
	return &Marker{client: client, userID: currentUserID}
}

// MarkAllRead implements ReadMarker.
func (m *Marker) MarkAllRead(ctx context.Context, conversationID string) error {
	f := backend.Where().
		Eq("chat_id", conversationID).
		Eq("receiver_id", m.userID).
		Eq("is_read", "false")
	return m.client.Update(ctx, "messages", f, map[string]any{"is_read": true})
}
