// Package channel adapts the backend's raw publish/subscribe surface into
// typed per-topic callbacks for the sync layer. It owns the invariant that
// at most one live channel exists per (topic, filter) pair: re-subscribing
// a key tears the stale channel down first.
package channel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/model"
	"go.uber.org/zap"
)

// Topic names. The per-conversation topics embed the conversation id, so
// the topic string doubles as the (topic, filter) dedup key.
const (
	topicAllMessages = "messages:all"
	topicChats       = "chats"
)

func messagesTopic(chatID string) string { return "messages:" + chatID }
func typingTopic(chatID string) string   { return "typing:" + chatID }

// MessageHandlers receives the per-conversation change feed.
type MessageHandlers struct {
	OnInsert func(model.Message)
	OnUpdate func(model.Message)
	OnDelete func(messageID string)
}

// Adapter wraps the realtime transport. All callbacks run on the
// transport's read loop; handlers must not block.
type Adapter struct {
	rt     *backend.Realtime
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]*backend.Subscription
}

// New creates the adapter and hooks transport state transitions onto the
// bus. Reconnection is deliberately not handled here: a disconnect leaves
// every subscription silently stale until a new transport is brought up.
func New(rt *backend.Realtime, b *bus.Bus, logger *zap.Logger) *Adapter {
	a := &Adapter{
		rt:     rt,
		bus:    b,
		logger: logger,
		active: make(map[string]*backend.Subscription),
	}
	rt.OnStateChange(func(s backend.ConnState) {
		kind := bus.KindTransportConnected
		if s == backend.Disconnected {
			kind = bus.KindTransportDisconnected
		}
		b.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: s})
	})
	return a
}

// Handle identifies one live channel owned by a caller. It carries the
// subscription it was issued for, so a handle that has since been replaced
// by a newer feed for the same key closes as a no-op.
type Handle struct {
	a   *Adapter
	key string
	sub *backend.Subscription
}

// Close unsubscribes the channel. Idempotent, and inert when the key now
// belongs to a newer subscription.
func (h Handle) Close() {
	if h.a == nil || h.sub == nil {
		return
	}
	h.a.mu.Lock()
	if h.a.active[h.key] == h.sub {
		delete(h.a.active, h.key)
	}
	h.a.mu.Unlock()
	h.sub.Unsubscribe()
}

func (a *Adapter) track(key string, sub *backend.Subscription) Handle {
	a.mu.Lock()
	prev, had := a.active[key]
	a.active[key] = sub
	a.mu.Unlock()
	if had {
		// A stale channel for this key was never torn down. The transport has
		// already re-pointed the topic at the new channel, so this only drops
		// the old handle's claim.
		a.logger.Warn("replacing stale channel", zap.String("key", key))
		prev.Unsubscribe()
	}
	return Handle{a: a, key: key, sub: sub}
}

// CloseAll tears down every live channel. Used on session end.
func (a *Adapter) CloseAll() {
	a.mu.Lock()
	subs := a.active
	a.active = make(map[string]*backend.Subscription)
	a.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// MessageFeed opens the per-conversation change feed: inserts, in-place
// updates, and deletes for one conversation, in server emission order.
func (a *Adapter) MessageFeed(chatID string, h MessageHandlers) (Handle, error) {
	topic := messagesTopic(chatID)
	filter := "chat_id=eq." + chatID
	ch := a.rt.Channel(topic).
		On(backend.EventInsert, filter, func(evt backend.ChangeEvent) {
			if msg, ok := a.decodeMessage(evt.New); ok && h.OnInsert != nil {
				h.OnInsert(msg)
			}
		}).
		On(backend.EventUpdate, filter, func(evt backend.ChangeEvent) {
			if msg, ok := a.decodeMessage(evt.New); ok && h.OnUpdate != nil {
				h.OnUpdate(msg)
			}
		}).
		On(backend.EventDelete, "", func(evt backend.ChangeEvent) {
			if h.OnDelete == nil {
				return
			}
			var old struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(evt.Old, &old); err != nil || old.ID == "" {
				a.logger.Warn("delete event without id", zap.String("topic", topic))
				return
			}
			h.OnDelete(old.ID)
		})
	sub, err := ch.Subscribe()
	if err != nil {
		return Handle{}, err
	}
	return a.track(topic, sub), nil
}

// GlobalMessageFeed opens the unfiltered insert feed, delivering only
// messages accepted by pred. The chat list uses it to notice activity in
// conversations that are not currently open.
func (a *Adapter) GlobalMessageFeed(pred func(model.Message) bool, fn func(model.Message)) (Handle, error) {
	ch := a.rt.Channel(topicAllMessages).
		On(backend.EventInsert, "", func(evt backend.ChangeEvent) {
			msg, ok := a.decodeMessage(evt.New)
			if !ok || !pred(msg) {
				return
			}
			fn(msg)
		})
	sub, err := ch.Subscribe()
	if err != nil {
		return Handle{}, err
	}
	return a.track(topicAllMessages, sub), nil
}

// ConversationFeed opens the conversation-row update feed, delivering the
// id of each updated row.
func (a *Adapter) ConversationFeed(fn func(conversationID string)) (Handle, error) {
	ch := a.rt.Channel(topicChats).
		On(backend.EventUpdate, "", func(evt backend.ChangeEvent) {
			var row struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(evt.New, &row); err != nil || row.ID == "" {
				a.logger.Warn("chat update without id")
				return
			}
			fn(row.ID)
		})
	sub, err := ch.Subscribe()
	if err != nil {
		return Handle{}, err
	}
	return a.track(topicChats, sub), nil
}

// TypingFeed opens the per-conversation ephemeral typing broadcast.
func (a *Adapter) TypingFeed(chatID string, fn func(model.TypingSignal)) (Handle, error) {
	topic := typingTopic(chatID)
	ch := a.rt.Channel(topic).
		OnBroadcast("typing", func(evt backend.ChangeEvent) {
			var sig model.TypingSignal
			if err := json.Unmarshal(evt.Data, &sig); err != nil {
				a.logger.Warn("bad typing payload", zap.Error(err))
				return
			}
			fn(sig)
		})
	sub, err := ch.Subscribe()
	if err != nil {
		return Handle{}, err
	}
	return a.track(topic, sub), nil
}

// SendTyping publishes an ephemeral typing broadcast. At-most-once; the
// signal is non-critical and never persisted.
func (a *Adapter) SendTyping(chatID string, sig model.TypingSignal) error {
	return a.rt.Channel(typingTopic(chatID)).Send("typing", sig)
}

func (a *Adapter) decodeMessage(raw json.RawMessage) (model.Message, bool) {
	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.logger.Warn("undecodable message row", zap.Error(err))
		return model.Message{}, false
	}
	return msg, true
}
