// Package chatlist holds the in-memory, recency-ordered view of all
// conversations for the logged-in user. It is a single process-wide
// instance per session, mutated only by adapter callbacks and explicit
// send actions.
package chatlist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// chatColumns joins both participant rows so OtherUser can be resolved
// without a second round trip.
const chatColumns = "*,user1:users!chats_user1_id_fkey(*),user2:users!chats_user2_id_fkey(*)"

// LoadError reports that the initial conversation fetch failed. The caller
// renders an empty list with an error indicator, never stale data.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load conversations: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Store is the Conversation Store.
type Store struct {
	client *backend.Client
	bus    *bus.Bus
	logger *zap.Logger
	userID string

	order   []*model.Conversation
	byID    map[string]*model.Conversation
	applied map[string]struct{} // message ids already folded in
}

// New creates an empty store for the given user.
func New(client *backend.Client, b *bus.Bus, userID string, logger *zap.Logger) *Store {
	return &Store{
		client:  client,
		bus:     b,
		logger:  logger,
		userID:  userID,
		byID:    make(map[string]*model.Conversation),
		applied: make(map[string]struct{}),
	}
}

// LoadAll fetches every conversation the user participates in, resolves the
// counterpart, zeroes unread counters and sorts by recency. On failure the
// store is emptied and a LoadError returned.
func (s *Store) LoadAll(ctx context.Context) ([]model.Conversation, error) {
	var rows []*model.Conversation
	f := backend.Where().
		Columns(chatColumns).
		Or(fmt.Sprintf("user1_id.eq.%s,user2_id.eq.%s", s.userID, s.userID)).
		OrderDesc("last_message_time")
	if err := s.client.Select(ctx, "chats", f, &rows); err != nil {
		s.order = nil
		s.byID = make(map[string]*model.Conversation)
		return nil, &LoadError{Err: err}
	}

	s.order = rows
	s.byID = make(map[string]*model.Conversation, len(rows))
	for _, c := range rows {
		c.ResolveOther(s.userID)
		c.UnreadCount = 0
		s.byID[c.ID] = c
	}
	s.resort()
	return s.Snapshot(), nil
}

// ApplyIncomingMessage folds one message-insert event into the list.
// Idempotent: every applied message id is remembered, so replaying one is a
// no-op even when other messages arrived in between.
func (s *Store) ApplyIncomingMessage(ctx context.Context, msg model.Message) {
	if _, done := s.applied[msg.ID]; done {
		return
	}

	if c, ok := s.byID[msg.ChatID]; ok {
		c.LastMessage = msg.Preview()
		c.LastMessageTime = msg.CreatedAt
		if msg.ReceiverID == s.userID {
			c.UnreadCount++
		}
		s.applied[msg.ID] = struct{}{}
		s.resort()
		s.publish(bus.KindChatUpdated, c.ID)
		return
	}

	// First sign of a conversation this store has never seen: fetch it
	// fresh and put it in front.
	c, err := s.fetch(ctx, msg.ChatID)
	if err != nil {
		s.logger.Warn("fetch discovered conversation", zap.String("chat_id", msg.ChatID), zap.Error(err))
		return
	}
	s.applied[msg.ID] = struct{}{}
	if msg.ReceiverID == s.userID {
		c.UnreadCount++
	}
	s.byID[c.ID] = c
	s.order = append([]*model.Conversation{c}, s.order...)
	s.resort()
	s.publish(bus.KindChatDiscovered, c.ID)
}

// ClearUnread zeroes the badge for one conversation, typically when its
// view opens and the timeline marks everything read upstream.
func (s *Store) ClearUnread(conversationID string) {
	c, ok := s.byID[conversationID]
	if !ok || c.UnreadCount == 0 {
		return
	}
	c.UnreadCount = 0
	s.publish(bus.KindChatUpdated, conversationID)
}

// ApplyConversationUpdate re-fetches one conversation row and merges it.
// Locally derived fields survive the merge; ties on last-message time keep
// their prior relative order.
func (s *Store) ApplyConversationUpdate(ctx context.Context, conversationID string) {
	fresh, err := s.fetch(ctx, conversationID)
	if err != nil {
		s.logger.Warn("refetch conversation", zap.String("chat_id", conversationID), zap.Error(err))
		return
	}

	if c, ok := s.byID[conversationID]; ok {
		c.LastMessage = fresh.LastMessage
		c.LastMessageTime = fresh.LastMessageTime
		c.User1, c.User2 = fresh.User1, fresh.User2
		c.ResolveOther(s.userID)
		s.resort()
		s.publish(bus.KindChatUpdated, conversationID)
		return
	}
	s.byID[conversationID] = fresh
	s.order = append([]*model.Conversation{fresh}, s.order...)
	s.resort()
	s.publish(bus.KindChatDiscovered, conversationID)
}

// EnsureConversation returns the conversation with the given counterpart,
// creating it lazily on first send. A duplicate-creation conflict resolves
// to the existing row instead of failing the flow.
func (s *Store) EnsureConversation(ctx context.Context, otherUserID string) (*model.Conversation, error) {
	for _, c := range s.order {
		if c.OtherUserID(s.userID) == otherUserID {
			return c, nil
		}
	}

	row := map[string]any{
		"id":                uuid.NewString(),
		"user1_id":          s.userID,
		"user2_id":          otherUserID,
		"last_message_time": time.Now().UTC().Format(time.RFC3339),
	}
	var created []model.Conversation
	err := s.client.Insert(ctx, "chats", []map[string]any{row}, &created)
	if err != nil {
		var conflict *backend.ConflictError
		if !errors.As(err, &conflict) {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		// The pair already exists upstream; adopt it.
		existing, ferr := s.fetchByPair(ctx, otherUserID)
		if ferr != nil {
			return nil, fmt.Errorf("resolve conflicting conversation: %w", ferr)
		}
		s.adopt(existing)
		return existing, nil
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("create conversation: empty representation")
	}

	c, err := s.fetch(ctx, created[0].ID)
	if err != nil {
		return nil, err
	}
	s.adopt(c)
	s.publish(bus.KindChatDiscovered, c.ID)
	return c, nil
}

// Snapshot returns a copy of the ordered list for rendering.
func (s *Store) Snapshot() []model.Conversation {
	out := make([]model.Conversation, len(s.order))
	for i, c := range s.order {
		out[i] = *c
	}
	return out
}

// Get returns one conversation by id.
func (s *Store) Get(conversationID string) (*model.Conversation, bool) {
	c, ok := s.byID[conversationID]
	return c, ok
}

func (s *Store) adopt(c *model.Conversation) {
	if _, ok := s.byID[c.ID]; ok {
		return
	}
	s.byID[c.ID] = c
	s.order = append([]*model.Conversation{c}, s.order...)
	s.resort()
}

func (s *Store) fetch(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var c model.Conversation
	f := backend.Where().Columns(chatColumns).Eq("id", conversationID)
	if err := s.client.SelectOne(ctx, "chats", f, &c); err != nil {
		return nil, err
	}
	c.ResolveOther(s.userID)
	return &c, nil
}

func (s *Store) fetchByPair(ctx context.Context, otherUserID string) (*model.Conversation, error) {
	var rows []*model.Conversation
	f := backend.Where().
		Columns(chatColumns).
		Or(fmt.Sprintf("and(user1_id.eq.%s,user2_id.eq.%s),and(user1_id.eq.%s,user2_id.eq.%s)",
			s.userID, otherUserID, otherUserID, s.userID))
	if err := s.client.Select(ctx, "chats", f, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no conversation for pair (%s, %s)", s.userID, otherUserID)
	}
	c := rows[0]
	c.ResolveOther(s.userID)
	return c, nil
}

// resort re-establishes the ordering invariant: descending by last-message
// time, stable so equal timestamps keep their relative order.
func (s *Store) resort() {
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.order[i].LastMessageTime.After(s.order[j].LastMessageTime)
	})
}

func (s *Store) publish(kind, conversationID string) {
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: conversationID})
}
