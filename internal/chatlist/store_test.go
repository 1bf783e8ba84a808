package chatlist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/model"
	"go.uber.org/zap"
)

const day = 24 * time.Hour

func chatJSON(id, u1, u2 string, lastMsg string, lastTime time.Time) string {
	return fmt.Sprintf(`{
		"id": %q, "user1_id": %q, "user2_id": %q,
		"user1": {"id": %q, "name": "User %s"},
		"user2": {"id": %q, "name": "User %s"},
		"last_message": %q,
		"last_message_time": %q
	}`, id, u1, u2, u1, u1, u2, u2, lastMsg, lastTime.UTC().Format(time.RFC3339))
}

func storeWithServer(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := backend.NewClient(srv.URL, "anon", zap.NewNop())
	return New(client, bus.New(), "u1", zap.NewNop())
}

func TestLoadAllOrdersAndResolvesCounterpart(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Rows deliberately out of order; the store must sort them.
		fmt.Fprintf(w, "[%s,%s]",
			chatJSON("c1", "u1", "u2", "older", base.Add(-day)),
			chatJSON("c2", "u3", "u1", "newer", base),
		)
	})

	chats, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ID != "c2" || chats[1].ID != "c1" {
		t.Errorf("order = [%s %s], want [c2 c1]", chats[0].ID, chats[1].ID)
	}
	if chats[0].OtherUser == nil || chats[0].OtherUser.ID != "u3" {
		t.Errorf("c2 counterpart = %+v, want u3", chats[0].OtherUser)
	}
	if chats[1].OtherUser == nil || chats[1].OtherUser.ID != "u2" {
		t.Errorf("c1 counterpart = %+v, want u2", chats[1].OtherUser)
	}
	for _, c := range chats {
		if c.UnreadCount != 0 {
			t.Errorf("chat %s unread = %d, want 0", c.ID, c.UnreadCount)
		}
	}
}

func TestLoadAllFailure(t *testing.T) {
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := s.LoadAll(context.Background())
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want LoadError", err)
	}
	if got := s.Snapshot(); len(got) != 0 {
		t.Errorf("snapshot after failed load = %d chats, want empty", len(got))
	}
}

func TestApplyIncomingMessageIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s]", chatJSON("c1", "u1", "u2", "hi", base))
	})
	if _, err := s.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	msg := model.Message{
		ID: "m1", ChatID: "c1", SenderID: "u2", ReceiverID: "u1",
		Content: "hello there", Type: model.TypeText, CreatedAt: base.Add(time.Hour),
	}
	s.ApplyIncomingMessage(context.Background(), msg)
	s.ApplyIncomingMessage(context.Background(), msg) // duplicate delivery

	chats := s.Snapshot()
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].LastMessage != "hello there" {
		t.Errorf("preview = %q", chats[0].LastMessage)
	}
	if !chats[0].LastMessageTime.Equal(base.Add(time.Hour)) {
		t.Errorf("last message time = %v", chats[0].LastMessageTime)
	}
}

func TestApplyIncomingMessageIdempotentAcrossInterleaving(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s]", chatJSON("c1", "u1", "u2", "hi", base))
	})
	if _, err := s.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	m1 := model.Message{
		ID: "m1", ChatID: "c1", SenderID: "u2", ReceiverID: "u1",
		Content: "first", Type: model.TypeText, CreatedAt: base.Add(time.Hour),
	}
	m2 := model.Message{
		ID: "m2", ChatID: "c1", SenderID: "u2", ReceiverID: "u1",
		Content: "second", Type: model.TypeText, CreatedAt: base.Add(2 * time.Hour),
	}
	s.ApplyIncomingMessage(context.Background(), m1)
	s.ApplyIncomingMessage(context.Background(), m2)
	s.ApplyIncomingMessage(context.Background(), m1) // replay after a newer message

	c := s.Snapshot()[0]
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2 (replay must not re-count)", c.UnreadCount)
	}
	if c.LastMessage != "second" {
		t.Errorf("preview = %q, want %q (replay must not regress it)", c.LastMessage, "second")
	}
	if !c.LastMessageTime.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("last message time = %v, want %v", c.LastMessageTime, base.Add(2*time.Hour))
	}
}

func TestApplyIncomingMessageDiscoversConversation(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	fetches := 0
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "eq.c9" {
			fetches++
			fmt.Fprint(w, chatJSON("c9", "u1", "u7", "surprise", base))
			return
		}
		fmt.Fprint(w, "[]")
	})
	if _, err := s.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	msg := model.Message{
		ID: "m1", ChatID: "c9", SenderID: "u7", ReceiverID: "u1",
		Content: "surprise", Type: model.TypeText, CreatedAt: base,
	}
	s.ApplyIncomingMessage(context.Background(), msg)
	s.ApplyIncomingMessage(context.Background(), msg)

	if fetches != 1 {
		t.Errorf("conversation fetched %d times, want 1 (idempotent)", fetches)
	}
	chats := s.Snapshot()
	if len(chats) != 1 || chats[0].ID != "c9" {
		t.Fatalf("snapshot = %+v, want single c9", chats)
	}
	if chats[0].OtherUser == nil || chats[0].OtherUser.ID != "u7" {
		t.Errorf("counterpart = %+v, want u7", chats[0].OtherUser)
	}
}

func TestUnreadBadgeTracksIncoming(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s]", chatJSON("c1", "u1", "u2", "hi", base))
	})
	if _, err := s.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		s.ApplyIncomingMessage(context.Background(), model.Message{
			ID: fmt.Sprintf("m%d", i), ChatID: "c1", SenderID: "u2", ReceiverID: "u1",
			Content: "oi", Type: model.TypeText, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	// Own messages never bump the badge.
	s.ApplyIncomingMessage(context.Background(), model.Message{
		ID: "mine", ChatID: "c1", SenderID: "u1", ReceiverID: "u2",
		Content: "resposta", Type: model.TypeText, CreatedAt: base.Add(time.Hour),
	})

	if got := s.Snapshot()[0].UnreadCount; got != 3 {
		t.Errorf("unread = %d, want 3", got)
	}

	s.ClearUnread("c1")
	if got := s.Snapshot()[0].UnreadCount; got != 0 {
		t.Errorf("unread after clear = %d, want 0", got)
	}
}

func TestResortIsStableOnEqualTimestamps(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "eq.cb" {
			fmt.Fprint(w, chatJSON("cb", "u1", "u3", "same", base))
			return
		}
		fmt.Fprintf(w, "[%s,%s]",
			chatJSON("ca", "u1", "u2", "same", base),
			chatJSON("cb", "u1", "u3", "same", base),
		)
	})
	if _, err := s.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Refetch cb with an identical timestamp; relative order must hold.
	s.ApplyConversationUpdate(context.Background(), "cb")

	chats := s.Snapshot()
	if chats[0].ID != "ca" || chats[1].ID != "cb" {
		t.Errorf("order = [%s %s], want [ca cb] (stable)", chats[0].ID, chats[1].ID)
	}
}

func TestEnsureConversationResolvesConflict(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		default:
			if or := r.URL.Query().Get("or"); or != "" && or != "(user1_id.eq.u1,user2_id.eq.u1)" {
				// Pair lookup after the conflict.
				fmt.Fprintf(w, "[%s]", chatJSON("c5", "u5", "u1", "old thread", base))
				return
			}
			fmt.Fprint(w, "[]")
		}
	})
	if _, err := s.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	c, err := s.EnsureConversation(context.Background(), "u5")
	if err != nil {
		t.Fatalf("EnsureConversation() error = %v", err)
	}
	if c.ID != "c5" {
		t.Errorf("conversation id = %q, want c5 (existing row adopted)", c.ID)
	}
	if got := s.Snapshot(); len(got) != 1 || got[0].ID != "c5" {
		t.Errorf("snapshot = %+v, want adopted c5", got)
	}
}

func TestEnsureConversationReturnsExistingLocal(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	posts := 0
	s := storeWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
			w.WriteHeader(http.StatusConflict)
			return
		}
		fmt.Fprintf(w, "[%s]", chatJSON("c1", "u1", "u2", "hi", base))
	})
	if _, err := s.LoadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	c, err := s.EnsureConversation(context.Background(), "u2")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "c1" {
		t.Errorf("conversation = %q, want local c1", c.ID)
	}
	if posts != 0 {
		t.Errorf("insert attempted %d times for an existing conversation, want 0", posts)
	}
}
