// Package typing tracks the ephemeral "is typing" signal per conversation.
// The signal is never persisted, last-write-wins, and always safe to drop.
package typing

import (
	"sync"
	"time"

	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/model"
	"go.uber.org/zap"
)

// Decay is how long a typing flag stays up without a refreshing signal.
const Decay = 3 * time.Second

// Broadcaster publishes outbound typing signals on the live channel.
type Broadcaster interface {
	SendTyping(chatID string, sig model.TypingSignal) error
}

// Tracker holds per-(conversation, user) typing flags with auto-expiry.
type Tracker struct {
	userID string
	out    Broadcaster
	bus    *bus.Bus
	logger *zap.Logger
	decay  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	active map[string]bool
}

// New creates a tracker for the current user.
func New(currentUserID string, out Broadcaster, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		userID: currentUserID,
		out:    out,
		bus:    b,
		logger: logger,
		decay:  Decay,
		timers: make(map[string]*time.Timer),
		active: make(map[string]bool),
	}
}

// HandleSignal applies an inbound broadcast. Self-originated events are
// ignored. A true signal restarts the decay timer; false cancels it and
// clears immediately.
func (tr *Tracker) HandleSignal(sig model.TypingSignal) {
	if sig.UserID == tr.userID {
		return
	}
	key := sig.ChatID + "|" + sig.UserID

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if t, ok := tr.timers[key]; ok {
		t.Stop()
		delete(tr.timers, key)
	}

	if !sig.IsTyping {
		if tr.active[key] {
			delete(tr.active, key)
			tr.publish(sig.ChatID)
		}
		return
	}

	tr.active[key] = true
	tr.timers[key] = time.AfterFunc(tr.decay, func() { tr.expire(key, sig.ChatID) })
	tr.publish(sig.ChatID)
}

func (tr *Tracker) expire(key, chatID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.active[key] {
		return
	}
	delete(tr.active, key)
	delete(tr.timers, key)
	tr.publish(chatID)
}

// IsTyping reports whether any counterpart is currently typing in the
// conversation.
func (tr *Tracker) IsTyping(chatID string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	prefix := chatID + "|"
	for key := range tr.active {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Send broadcasts the current user's typing state. At-most-once delivery;
// a failed send is logged and forgotten.
func (tr *Tracker) Send(chatID string, isTyping bool) {
	sig := model.TypingSignal{
		ChatID:   chatID,
		UserID:   tr.userID,
		IsTyping: isTyping,
		SentAt:   time.Now(),
	}
	if err := tr.out.SendTyping(chatID, sig); err != nil {
		tr.logger.Warn("typing broadcast failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// Stop cancels all pending decay timers and clears every flag. Called on
// view close.
func (tr *Tracker) Stop() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for key, t := range tr.timers {
		t.Stop()
		delete(tr.timers, key)
	}
	tr.active = make(map[string]bool)
}

func (tr *Tracker) publish(chatID string) {
	tr.bus.Publish(bus.Event{Kind: bus.KindTypingChanged, Timestamp: time.Now(), Payload: chatID})
}
