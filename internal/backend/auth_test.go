package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSignInParsesTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, "u1", exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("grant_type = %q", r.URL.Query().Get("grant_type"))
		}
		resp := map[string]any{
			"access_token": token,
			"expires_in":   3600,
			"user": map[string]any{
				"id":    "u1",
				"email": "ana@example.com",
				"user_metadata": map[string]any{
					"name":  "Ana",
					"phone": "+5511999990000",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := NewAuth(srv.URL, "anon-key", zap.NewNop())

	var notified *AuthSession
	a.OnSessionChange(func(s *AuthSession) { notified = s })

	sess, err := a.SignIn(context.Background(), "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if sess.User.ID != "u1" || sess.User.Name != "Ana" {
		t.Errorf("user = %+v", sess.User)
	}
	if !sess.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v (from token claims)", sess.ExpiresAt, exp)
	}
	if notified == nil || notified.User.ID != "u1" {
		t.Error("session-change listener not notified")
	}
	if a.Token() != token {
		t.Error("Token() does not return the access token")
	}
}

func TestSignInRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewAuth(srv.URL, "anon-key", zap.NewNop())
	if _, err := a.SignIn(context.Background(), "ana@example.com", "wrong"); err == nil {
		t.Fatal("SignIn() expected error")
	}
	if a.Session() != nil {
		t.Error("session set after failed sign-in")
	}
}

func TestSignOutClearsSession(t *testing.T) {
	a := NewAuth("http://unused", "anon-key", zap.NewNop())
	a.session = &AuthSession{AccessToken: "tok"}

	cleared := false
	a.OnSessionChange(func(s *AuthSession) { cleared = s == nil })

	a.SignOut()
	if a.Session() != nil {
		t.Error("session survives SignOut")
	}
	if a.Token() != "" {
		t.Error("Token() non-empty after SignOut")
	}
	if !cleared {
		t.Error("listener not notified of sign-out")
	}
}
