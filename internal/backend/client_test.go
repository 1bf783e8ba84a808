package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "anon-key", zap.NewNop())
}

func TestSelectEncodesFilter(t *testing.T) {
	var gotURL string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		_, _ = w.Write([]byte(`[{"id":"m1"}]`))
	})

	var rows []struct {
		ID string `json:"id"`
	}
	f := Where().Eq("chat_id", "c1").OrderAsc("created_at")
	if err := c.Select(context.Background(), "messages", f, &rows); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "m1" {
		t.Errorf("rows = %v, want one row m1", rows)
	}
	want := "/rest/v1/messages?chat_id=eq.c1&order=created_at.asc"
	if gotURL != want {
		t.Errorf("request URL = %q, want %q", gotURL, want)
	}
}

func TestSelectOrFilter(t *testing.T) {
	var gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("or")
		_, _ = w.Write([]byte(`[]`))
	})

	var rows []json.RawMessage
	f := Where().Or("user1_id.eq.u1,user2_id.eq.u1")
	if err := c.Select(context.Background(), "chats", f, &rows); err != nil {
		t.Fatal(err)
	}
	if gotQuery != "(user1_id.eq.u1,user2_id.eq.u1)" {
		t.Errorf("or param = %q", gotQuery)
	}
}

func TestInsertConflict(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := c.Insert(context.Background(), "chats", map[string]string{"id": "c1"}, nil)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want ConflictError", err)
	}
	if conflict.Table != "chats" {
		t.Errorf("conflict table = %q, want chats", conflict.Table)
	}
}

func TestFetchErrorCarriesStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.Select(context.Background(), "messages", Where(), &[]json.RawMessage{})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want FetchError", err)
	}
	if fe.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", fe.Status)
	}
}

func TestUpsertHeaders(t *testing.T) {
	var prefer, conflict string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		prefer = r.Header.Get("Prefer")
		conflict = r.URL.Query().Get("on_conflict")
		_, _ = w.Write([]byte(`[{"chat_id":"c1"}]`))
	})

	var out []json.RawMessage
	err := c.Upsert(context.Background(), "chat_wallpapers", "chat_id",
		map[string]string{"chat_id": "c1", "wallpaper_id": "w2"}, &out)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if conflict != "chat_id" {
		t.Errorf("on_conflict = %q, want chat_id", conflict)
	}
	if prefer != "resolution=merge-duplicates,return=representation" {
		t.Errorf("Prefer = %q", prefer)
	}
}

func TestTokenSourceOverridesAnonKey(t *testing.T) {
	var authz string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})
	c.SetTokenSource(func() string { return "user-token" })

	_ = c.Select(context.Background(), "chats", Where(), &[]json.RawMessage{})
	if authz != "Bearer user-token" {
		t.Errorf("Authorization = %q, want Bearer user-token", authz)
	}
}
