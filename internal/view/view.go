// Package view owns one open conversation: its timeline, typing flags,
// read reconciliation and live subscriptions, behind a small lifecycle
// state machine.
package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/channel"
	"github.com/cabachat/caba/internal/chatlist"
	"github.com/cabachat/caba/internal/model"
	"github.com/cabachat/caba/internal/readstate"
	"github.com/cabachat/caba/internal/timeline"
	"github.com/cabachat/caba/internal/typing"
	"go.uber.org/zap"
)

// Wallpaper is a selectable conversation background.
type Wallpaper struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type wallpaperRow struct {
	ChatID      string `json:"chat_id"`
	WallpaperID string `json:"wallpaper_id"`
	SetBy       string `json:"set_by,omitempty"`
}

// View is the open-conversation aggregate. One conversation is open at a
// time; opening a second view requires closing the first.
type View struct {
	chatID  string
	userID  string
	client  *backend.Client
	adapter *channel.Adapter
	chats   *chatlist.Store
	bus     *bus.Bus
	logger  *zap.Logger

	machine  *Machine
	Timeline *timeline.Timeline
	Typing   *typing.Tracker
	Reads    *readstate.Reconciler

	mu          sync.Mutex
	gen         int
	handles     []channel.Handle
	counterpart model.User
	wallpaper   *Wallpaper
}

// New wires a view for one conversation. Nothing is fetched or subscribed
// until Open.
func New(chatID, currentUserID string, client *backend.Client, adapter *channel.Adapter, chats *chatlist.Store, b *bus.Bus, logger *zap.Logger) *View {
	v := &View{
		chatID:  chatID,
		userID:  currentUserID,
		client:  client,
		adapter: adapter,
		chats:   chats,
		bus:     b,
		logger:  logger,
		machine: NewMachine(b, chatID),
	}
	marker := readstate.NewMarker(client, currentUserID)
	v.Timeline = timeline.New(chatID, currentUserID, client, marker, logger)
	v.Typing = typing.New(currentUserID, adapter, b, logger)
	v.Reads = readstate.New(chatID, currentUserID, marker, b, logger)
	return v
}

// State returns the current lifecycle state.
func (v *View) State() State { return v.machine.Current() }

// Counterpart returns the other participant, valid once Ready.
func (v *View) Counterpart() model.User {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counterpart
}

// Wallpaper returns the active background, or nil for the default.
func (v *View) Wallpaper() *Wallpaper {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallpaper
}

// Open loads history and counterpart details and attaches the live feeds.
// A load failure leaves the view in Error; the instance is done and the
// caller builds a fresh one to retry. Results landing after Close are
// discarded.
func (v *View) Open(ctx context.Context) error {
	if err := v.machine.Transition(Loading); err != nil {
		return err
	}
	v.mu.Lock()
	gen := v.gen
	v.mu.Unlock()

	other, err := v.fetchCounterpart(ctx)
	if err != nil {
		v.fail(err)
		return err
	}
	if err := v.Timeline.Load(ctx); err != nil {
		v.fail(err)
		return err
	}

	// Wallpaper is cosmetic; a missing row or table never blocks opening.
	wp := v.loadWallpaper(ctx)

	msgs, err := v.adapter.MessageFeed(v.chatID, channel.MessageHandlers{
		OnInsert: func(m model.Message) { v.onInsert(ctx, m) },
		OnUpdate: v.onUpdate,
		OnDelete: v.onDelete,
	})
	if err != nil {
		v.fail(err)
		return err
	}
	typ, err := v.adapter.TypingFeed(v.chatID, v.Typing.HandleSignal)
	if err != nil {
		msgs.Close()
		v.fail(err)
		return err
	}

	v.mu.Lock()
	if v.gen != gen {
		// Closed while loading. Drop everything we just set up.
		v.mu.Unlock()
		msgs.Close()
		typ.Close()
		return nil
	}
	v.handles = append(v.handles, msgs, typ)
	v.counterpart = other
	v.wallpaper = wp
	v.mu.Unlock()

	// Everything addressed to us was just marked read by the load.
	v.chats.ClearUnread(v.chatID)
	return v.machine.Transition(Ready)
}

// Close detaches the live feeds and cancels typing timers. The in-memory
// timeline is dropped with the view.
func (v *View) Close() {
	v.mu.Lock()
	v.gen++
	handles := v.handles
	v.handles = nil
	v.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
	v.Typing.Stop()

	// Error is terminal for the instance, so only live states return to
	// Idle here.
	switch v.machine.Current() {
	case Ready, Loading:
		if err := v.machine.Transition(Idle); err != nil {
			v.logger.Warn("view close transition", zap.Error(err))
		}
	}
}

func (v *View) fail(err error) {
	v.logger.Error("open conversation failed", zap.String("chat_id", v.chatID), zap.Error(err))
	if terr := v.machine.Transition(Error); terr != nil {
		v.logger.Warn("view error transition", zap.Error(terr))
	}
}

func (v *View) fetchCounterpart(ctx context.Context) (model.User, error) {
	conv, ok := v.chats.Get(v.chatID)
	if ok && conv.OtherUser != nil {
		return *conv.OtherUser, nil
	}
	var u model.User
	f := backend.Where().Eq("id", v.otherUserID(ctx))
	if err := v.client.SelectOne(ctx, "users", f, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (v *View) otherUserID(ctx context.Context) string {
	if conv, ok := v.chats.Get(v.chatID); ok {
		return conv.OtherUserID(v.userID)
	}
	return ""
}

func (v *View) loadWallpaper(ctx context.Context) *Wallpaper {
	var row wallpaperRow
	if err := v.client.SelectOne(ctx, "chat_wallpapers", backend.Where().Eq("chat_id", v.chatID), &row); err != nil {
		return nil
	}
	if row.WallpaperID == "" {
		return nil
	}
	var wp Wallpaper
	if err := v.client.SelectOne(ctx, "wallpapers", backend.Where().Eq("id", row.WallpaperID), &wp); err != nil {
		v.logger.Warn("wallpaper lookup failed", zap.String("wallpaper_id", row.WallpaperID), zap.Error(err))
		return nil
	}
	return &wp
}

// SetWallpaper assigns a background to the conversation, replacing any
// previous choice. A nil wallpaper clears it back to the default.
func (v *View) SetWallpaper(ctx context.Context, wp *Wallpaper) error {
	if wp == nil {
		f := backend.Where().Eq("chat_id", v.chatID)
		if err := v.client.Delete(ctx, "chat_wallpapers", f); err != nil {
			return err
		}
	} else {
		row := wallpaperRow{ChatID: v.chatID, WallpaperID: wp.ID, SetBy: v.userID}
		if err := v.client.Upsert(ctx, "chat_wallpapers", "chat_id", row, nil); err != nil {
			return err
		}
	}
	v.mu.Lock()
	v.wallpaper = wp
	v.mu.Unlock()
	return nil
}

// ClearHistory deletes every message in the conversation upstream and
// empties the local timeline. The conversation row itself stays.
func (v *View) ClearHistory(ctx context.Context) error {
	f := backend.Where().Eq("chat_id", v.chatID)
	if err := v.client.Delete(ctx, "messages", f); err != nil {
		return err
	}
	v.Timeline.Reset()
	v.bus.Publish(bus.Event{Kind: bus.KindMessageRemoved, Timestamp: time.Now(), Payload: v.chatID})
	return nil
}

// BlockUser blocks the counterpart for the current user. Blocking someone
// who is already blocked succeeds quietly.
func (v *View) BlockUser(ctx context.Context) error {
	row := map[string]any{
		"blocker_id": v.userID,
		"blocked_id": v.otherUserID(ctx),
	}
	err := v.client.Insert(ctx, "blocked_users", []map[string]any{row}, nil)
	if err != nil {
		var conflict *backend.ConflictError
		if errors.As(err, &conflict) {
			return nil
		}
		return err
	}
	return nil
}

func (v *View) onInsert(ctx context.Context, m model.Message) {
	if !v.Timeline.Append(m) {
		return
	}
	v.Reads.OnIncoming(ctx, m)
	v.bus.Publish(bus.Event{Kind: bus.KindMessageAppended, Timestamp: time.Now(), Payload: m})
}

func (v *View) onUpdate(m model.Message) {
	if !v.Timeline.Update(m) {
		return
	}
	v.bus.Publish(bus.Event{Kind: bus.KindMessageUpdated, Timestamp: time.Now(), Payload: m})
}

func (v *View) onDelete(messageID string) {
	if !v.Timeline.Remove(messageID) {
		return
	}
	v.bus.Publish(bus.Event{Kind: bus.KindMessageRemoved, Timestamp: time.Now(), Payload: messageID})
}
