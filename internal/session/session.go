package session

import (
	"sync"
	"time"

	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/model"
)

// Context is the signed-in identity for one running session. It starts
// empty; Start is called after authentication and End on sign-out.
type Context struct {
	Name string

	mu   sync.RWMutex
	user *model.User
	bus  *bus.Bus
}

// NewContext creates an unauthenticated session context.
func NewContext(name string, b *bus.Bus) *Context {
	return &Context{Name: name, bus: b}
}

// Start records the authenticated user and announces the change.
func (c *Context) Start(u model.User) {
	c.mu.Lock()
	c.user = &u
	c.mu.Unlock()
	c.publish()
}

// End clears the identity on sign-out.
func (c *Context) End() {
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	c.publish()
}

// User returns the signed-in user, or false when unauthenticated.
func (c *Context) User() (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return model.User{}, false
	}
	return *c.user, true
}

// UserID returns the signed-in user id, empty when unauthenticated.
func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

func (c *Context) publish() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: bus.KindSessionChanged, Timestamp: time.Now(), Payload: c.Name})
}
