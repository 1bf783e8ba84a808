package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// UserSnapshot is the minimal identity carried through the client: what the
// auth token and its metadata say about the logged-in user.
type UserSnapshot struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// AuthSession is an authenticated backend session.
type AuthSession struct {
	AccessToken string
	ExpiresAt   time.Time
	User        UserSnapshot
}

// Auth drives the backend's token lifecycle. It holds at most one session;
// session-change notifications fan out to registered listeners.
type Auth struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger

	mu        sync.RWMutex
	session   *AuthSession
	listeners []func(*AuthSession)
}

// NewAuth creates an auth client for the given project URL and anon key.
func NewAuth(baseURL, apiKey string, logger *zap.Logger) *Auth {
	return &Auth{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	User        struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Metadata struct {
			Name   string `json:"name"`
			Phone  string `json:"phone"`
			Avatar string `json:"avatar"`
		} `json:"user_metadata"`
	} `json:"user"`
}

// SignIn exchanges email and password for a session. The user id and expiry
// come from the token claims; the profile fields from the user metadata.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*AuthSession, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/auth/v1/token?grant_type=password", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sign in: backend returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("sign in: decode response: %w", err)
	}

	sess := &AuthSession{
		AccessToken: tr.AccessToken,
		User: UserSnapshot{
			ID:     tr.User.ID,
			Email:  tr.User.Email,
			Name:   tr.User.Metadata.Name,
			Phone:  tr.User.Metadata.Phone,
			Avatar: tr.User.Metadata.Avatar,
		},
	}

	// The token claims are authoritative for subject and expiry. The client
	// holds no signing secret, so the token is parsed without verification;
	// the backend re-verifies it on every request anyway.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			sess.User.ID = sub
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			sess.ExpiresAt = exp.Time
		}
	} else {
		a.logger.Warn("access token is not a parseable JWT", zap.Error(err))
	}
	if sess.ExpiresAt.IsZero() && tr.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	a.mu.Lock()
	a.session = sess
	listeners := append([]func(*AuthSession){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(sess)
	}
	a.logger.Info("signed in", zap.String("user_id", sess.User.ID))
	return sess, nil
}

// SignOut drops the session and notifies listeners with nil.
func (a *Auth) SignOut() {
	a.mu.Lock()
	a.session = nil
	listeners := append([]func(*AuthSession){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(nil)
	}
}

// Session returns the current session, or nil when signed out.
func (a *Auth) Session() *AuthSession {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// OnSessionChange registers a listener called on sign-in and sign-out.
func (a *Auth) OnSessionChange(fn func(*AuthSession)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// Token returns the current access token, or empty when signed out. Shaped
// to plug into Client.SetTokenSource.
func (a *Auth) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return ""
	}
	return a.session.AccessToken
}
