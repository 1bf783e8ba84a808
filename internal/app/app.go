// Package app composes the sync layer: backend client, realtime channels,
// chat list, prefs and the send path, behind one fx module.
package app

import (
	"context"
	"fmt"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/channel"
	"github.com/cabachat/caba/internal/chatlist"
	"github.com/cabachat/caba/internal/model"
	"github.com/cabachat/caba/internal/outbox"
	"github.com/cabachat/caba/internal/prefs"
	"github.com/cabachat/caba/internal/session"
	"github.com/cabachat/caba/internal/view"
	"go.uber.org/zap"
)

// App is the signed-in client. The chat list, send path and open views
// only exist after SignIn succeeds.
type App struct {
	bus     *bus.Bus
	logger  *zap.Logger
	auth    *backend.Auth
	client  *backend.Client
	adapter *channel.Adapter
	prefs   *prefs.DB
	sess    *session.Context

	chats  *chatlist.Store
	sender *outbox.Sender
	feeds  []channel.Handle
}

// NewApp wires the aggregate. Nothing talks to the backend until SignIn.
func NewApp(b *bus.Bus, logger *zap.Logger, auth *backend.Auth, client *backend.Client, adapter *channel.Adapter, db *prefs.DB, sess *session.Context) *App {
	a := &App{
		bus:     b,
		logger:  logger,
		auth:    auth,
		client:  client,
		adapter: adapter,
		prefs:   db,
		sess:    sess,
	}
	// Auth owns the identity; the session context follows it.
	auth.OnSessionChange(func(as *backend.AuthSession) {
		if as == nil {
			sess.End()
		}
	})
	return a
}

// SignIn authenticates, loads the chat list and attaches the global
// feeds that keep it live across every conversation.
func (a *App) SignIn(ctx context.Context, email, password string) error {
	as, err := a.auth.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	user := model.User{
		ID:     as.User.ID,
		Name:   as.User.Name,
		Email:  as.User.Email,
		Phone:  as.User.Phone,
		Avatar: as.User.Avatar,
	}
	a.sess.Start(user)
	if err := a.prefs.SaveUser(user); err != nil {
		a.logger.Warn("persist user snapshot failed", zap.Error(err))
	}

	a.chats = chatlist.New(a.client, a.bus, user.ID, a.logger)
	if _, err := a.chats.LoadAll(ctx); err != nil {
		// The store is already in its declared empty error state; the
		// live feeds below still attach so recovery needs no restart.
		a.logger.Error("chat list load failed", zap.Error(err))
	}

	participant := func(m model.Message) bool {
		return m.SenderID == user.ID || m.ReceiverID == user.ID
	}
	msgs, err := a.adapter.GlobalMessageFeed(participant, func(m model.Message) {
		a.chats.ApplyIncomingMessage(context.Background(), m)
	})
	if err != nil {
		return fmt.Errorf("attach message feed: %w", err)
	}
	convs, err := a.adapter.ConversationFeed(func(conversationID string) {
		a.chats.ApplyConversationUpdate(context.Background(), conversationID)
	})
	if err != nil {
		msgs.Close()
		return fmt.Errorf("attach conversation feed: %w", err)
	}
	a.feeds = append(a.feeds, msgs, convs)

	a.sender = outbox.NewSender(user.ID, a.client, a.chats, a.prefs, nil, a.bus, a.logger)
	a.logger.Info("signed in", zap.String("user_id", user.ID))
	return nil
}

// SignOut detaches the feeds and drops the local identity.
func (a *App) SignOut() {
	for _, h := range a.feeds {
		h.Close()
	}
	a.feeds = nil
	a.chats = nil
	a.sender = nil
	a.auth.SignOut() // the session-change listener clears the context
	if err := a.prefs.ClearUser(); err != nil {
		a.logger.Warn("clear user snapshot failed", zap.Error(err))
	}
}

// Chats returns the live chat list store, nil before sign-in.
func (a *App) Chats() *chatlist.Store { return a.chats }

// Sender returns the send path, nil before sign-in.
func (a *App) Sender() *outbox.Sender { return a.sender }

// Prefs returns the local preference store.
func (a *App) Prefs() *prefs.DB { return a.prefs }

// OpenConversation builds a view for one conversation. The caller owns
// its lifecycle: Open to attach, Close before opening another.
func (a *App) OpenConversation(conversationID string) (*view.View, error) {
	if a.chats == nil {
		return nil, fmt.Errorf("not signed in")
	}
	return view.New(conversationID, a.sess.UserID(), a.client, a.adapter, a.chats, a.bus, a.logger), nil
}
