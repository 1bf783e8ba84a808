// Package outbox is the send path: validate, stamp, show optimistically,
// then persist. At-most-once; a failed insert rolls the optimistic copy
// back instead of retrying.
package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/chatlist"
	"github.com/cabachat/caba/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ValidationError rejects a message before any side effect happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid message: " + e.Reason }

// Appender is the open view's timeline, receiving the optimistic insert.
type Appender interface {
	AppendLocal(msg model.Message) bool
	Remove(messageID string) bool
}

// VanishPolicy reports whether disappearing messages are enabled for a
// conversation and for how long they live.
type VanishPolicy interface {
	Vanish(conversationID string) (enabled bool, ttl time.Duration)
}

// TypingNotifier clears the outbound typing flag once a message goes out.
type TypingNotifier interface {
	Send(conversationID string, isTyping bool)
}

// Request describes one outgoing message.
type Request struct {
	ConversationID string
	ReceiverID     string
	Content        model.Content
	ReplyTo        string // id of the quoted message, empty for none
}

// Sender builds and persists outgoing messages for the current user.
type Sender struct {
	userID string
	client *backend.Client
	chats  *chatlist.Store
	vanish VanishPolicy
	typing TypingNotifier
	bus    *bus.Bus
	logger *zap.Logger
}

// NewSender creates a sender. vanish and typing may be nil.
func NewSender(currentUserID string, client *backend.Client, chats *chatlist.Store, vanish VanishPolicy, typing TypingNotifier, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		userID: currentUserID,
		client: client,
		chats:  chats,
		vanish: vanish,
		typing: typing,
		bus:    b,
		logger: logger,
	}
}

// Send validates, appends the message optimistically to the open timeline,
// then inserts it upstream and bumps the conversation row. The chat list is
// only touched once the insert succeeds, so a failed send leaves it exactly
// as it was. On insert failure the optimistic copy is removed and a
// message.send_failed event is published; there is no retry loop.
func (s *Sender) Send(ctx context.Context, tl Appender, req Request) (model.Message, error) {
	body, mtype, err := model.EncodeContent(req.Content)
	if err != nil {
		return model.Message{}, err
	}
	if mtype == model.TypeText && strings.TrimSpace(body) == "" {
		return model.Message{}, &ValidationError{Reason: "empty text body"}
	}

	now := time.Now()
	msg := model.Message{
		ID:         uuid.NewString(),
		ChatID:     req.ConversationID,
		SenderID:   s.userID,
		ReceiverID: req.ReceiverID,
		Content:    body,
		Type:       mtype,
		CreatedAt:  now,
		ReplyTo:    req.ReplyTo,
	}
	if s.vanish != nil {
		if enabled, ttl := s.vanish.Vanish(req.ConversationID); enabled {
			deadline := now.Add(ttl)
			msg.ExpiresAt = &deadline
		}
	}

	if tl != nil {
		tl.AppendLocal(msg)
	}
	if s.typing != nil {
		s.typing.Send(req.ConversationID, false)
	}

	if err := s.client.Insert(ctx, "messages", msg, nil); err != nil {
		s.logger.Error("send failed", zap.String("chat_id", req.ConversationID), zap.String("msg_id", msg.ID), zap.Error(err))
		if tl != nil {
			tl.Remove(msg.ID)
		}
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendFailed,
			Timestamp: time.Now(),
			Payload:   map[string]string{"msg_id": msg.ID, "chat_id": req.ConversationID, "error": err.Error()},
		})
		return model.Message{}, err
	}

	s.chats.ApplyIncomingMessage(ctx, msg)
	s.bumpConversation(ctx, &msg)
	return msg, nil
}

// bumpConversation refreshes the chat row's preview columns. The message
// itself is already persisted, so a failure here only degrades ordering
// for other clients and is logged rather than surfaced.
func (s *Sender) bumpConversation(ctx context.Context, msg *model.Message) {
	patch := map[string]any{
		"last_message":      msg.Preview(),
		"last_message_time": msg.CreatedAt.Format(time.RFC3339),
	}
	f := backend.Where().Eq("id", msg.ChatID)
	if err := s.client.Update(ctx, "chats", f, patch); err != nil {
		s.logger.Warn("chat preview bump failed", zap.String("chat_id", msg.ChatID), zap.Error(err))
	}
}
