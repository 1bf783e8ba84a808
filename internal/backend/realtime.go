package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventKind identifies a change-feed event delivered on a channel.
type EventKind string

const (
	EventInsert    EventKind = "INSERT"
	EventUpdate    EventKind = "UPDATE"
	EventDelete    EventKind = "DELETE"
	EventBroadcast EventKind = "broadcast"
)

// ConnState is the only thing the transport reports about its health.
// There is no reconnect or backoff here: after a disconnect, subscriptions
// are silently stale until the caller opens a new transport.
type ConnState string

const (
	Connected    ConnState = "connected"
	Disconnected ConnState = "disconnected"
)

const heartbeatInterval = 30 * time.Second

// ChangeEvent is a decoded frame delivered to channel handlers.
type ChangeEvent struct {
	Kind  EventKind
	Table string
	New   json.RawMessage // row after insert/update
	Old   json.RawMessage // row before delete (primary key only)
	Event string          // broadcast event name
	Data  json.RawMessage // broadcast payload
}

// Handler receives events matching a channel binding.
type Handler func(ChangeEvent)

type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changePayload struct {
	Type  string          `json:"type"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new"`
	Old   json.RawMessage `json:"old"`
}

type broadcastPayload struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Realtime is the websocket side of the backend: one connection carrying
// many logical channels, each identified by topic. Delivery order within a
// topic follows server emission order.
type Realtime struct {
	url     string
	apiKey  string
	logger  *zap.Logger
	onState func(ConnState)

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*Channel
	refSeq   int
	closed   bool
	done     chan struct{}
}

// NewRealtime creates a realtime client for the given websocket URL.
func NewRealtime(wsURL, apiKey string, logger *zap.Logger) *Realtime {
	return &Realtime{
		url:      wsURL,
		apiKey:   apiKey,
		logger:   logger,
		channels: make(map[string]*Channel),
	}
}

// OnStateChange installs the connected/disconnected callback. Must be set
// before Connect.
func (r *Realtime) OnStateChange(fn func(ConnState)) { r.onState = fn }

// Connect dials the transport and starts the read and heartbeat loops.
func (r *Realtime) Connect(ctx context.Context) error {
	u := r.url
	if strings.Contains(u, "?") {
		u += "&apikey=" + r.apiKey
	} else {
		u += "?apikey=" + r.apiKey
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.closed = false
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.readLoop(conn)
	go r.heartbeatLoop()

	if r.onState != nil {
		r.onState(Connected)
	}
	r.logger.Info("realtime transport connected")
	return nil
}

// Close tears the transport down. Channels are forgotten, not resubscribed.
func (r *Realtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	if r.done != nil {
		close(r.done)
	}
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Channel returns a channel builder for the given topic. Subscribing the
// same topic twice replaces the earlier registration.
func (r *Realtime) Channel(topic string) *Channel {
	return &Channel{rt: r, topic: topic}
}

func (r *Realtime) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			r.mu.Lock()
			wasClosed := r.closed
			r.mu.Unlock()
			if !wasClosed {
				r.logger.Warn("realtime transport lost", zap.Error(err))
				if r.onState != nil {
					r.onState(Disconnected)
				}
			}
			return
		}
		r.dispatch(f)
	}
}

func (r *Realtime) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			_ = r.write(frame{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`)})
		case <-done:
			return
		}
	}
}

func (r *Realtime) dispatch(f frame) {
	r.mu.Lock()
	ch := r.channels[f.Topic]
	r.mu.Unlock()
	if ch == nil {
		return
	}

	switch f.Event {
	case "postgres_changes":
		var p changePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			r.logger.Warn("bad change payload", zap.String("topic", f.Topic), zap.Error(err))
			return
		}
		ch.deliver(ChangeEvent{
			Kind:  EventKind(p.Type),
			Table: p.Table,
			New:   p.New,
			Old:   p.Old,
		})
	case "broadcast":
		var p broadcastPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			r.logger.Warn("bad broadcast payload", zap.String("topic", f.Topic), zap.Error(err))
			return
		}
		ch.deliver(ChangeEvent{
			Kind:  EventBroadcast,
			Event: p.Event,
			Data:  p.Payload,
		})
	case "phx_reply", "phx_close":
		// Join/leave acknowledgements carry nothing the stores need.
	}
}

func (r *Realtime) write(f frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.closed {
		return fmt.Errorf("transport not connected")
	}
	r.refSeq++
	if f.Ref == "" {
		f.Ref = strconv.Itoa(r.refSeq)
	}
	return r.conn.WriteJSON(f)
}

func (r *Realtime) register(topic string, ch *Channel) {
	r.mu.Lock()
	r.channels[topic] = ch
	r.mu.Unlock()
}

type binding struct {
	kind   EventKind
	filter rowFilter
	event  string // broadcast event name
	fn     Handler
}

// Channel is one logical subscription topic. Bindings are added with On
// and OnBroadcast, then activated by Subscribe.
type Channel struct {
	rt       *Realtime
	topic    string
	bindings []binding
}

// On binds a handler to row-change events. filter is a "column=eq.value"
// expression applied client-side to the new row; empty matches all rows.
func (ch *Channel) On(kind EventKind, filter string, fn Handler) *Channel {
	ch.bindings = append(ch.bindings, binding{kind: kind, filter: parseRowFilter(filter), fn: fn})
	return ch
}

// OnBroadcast binds a handler to ephemeral broadcast events by name.
func (ch *Channel) OnBroadcast(event string, fn Handler) *Channel {
	ch.bindings = append(ch.bindings, binding{kind: EventBroadcast, event: event, fn: fn})
	return ch
}

// Subscribe joins the topic on the live transport. One Subscribe opens one
// live channel; a later Subscribe for the same topic supersedes it, after
// which the older handle's Unsubscribe is a no-op.
func (ch *Channel) Subscribe() (*Subscription, error) {
	err := ch.rt.write(frame{Topic: ch.topic, Event: "phx_join", Payload: json.RawMessage(`{}`)})
	if err != nil {
		return nil, &SubscriptionError{Topic: ch.topic, Err: err}
	}
	ch.rt.register(ch.topic, ch)
	return &Subscription{rt: ch.rt, topic: ch.topic, ch: ch}, nil
}

// Send publishes an ephemeral broadcast on the topic. At-most-once: a write
// failure is returned but nothing is queued or retried.
func (ch *Channel) Send(event string, payload any) error {
	raw, err := json.Marshal(broadcastEnvelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	return ch.rt.write(frame{Topic: ch.topic, Event: "broadcast", Payload: raw})
}

type broadcastEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func (ch *Channel) deliver(evt ChangeEvent) {
	for _, b := range ch.bindings {
		if b.kind != evt.Kind {
			continue
		}
		if evt.Kind == EventBroadcast {
			if b.event != "" && b.event != evt.Event {
				continue
			}
		} else if !b.filter.matches(evt) {
			continue
		}
		b.fn(evt)
	}
}

// Subscription is a live channel handle. It remembers which channel it
// registered, so a handle whose topic was since re-subscribed cannot tear
// down its replacement.
type Subscription struct {
	rt    *Realtime
	topic string
	ch    *Channel
	once  sync.Once
}

// Unsubscribe leaves the topic and stops delivery. Idempotent, and a
// no-op when a newer subscription for the topic has superseded this one.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.rt.mu.Lock()
		current := s.rt.channels[s.topic] == s.ch
		if current {
			delete(s.rt.channels, s.topic)
		}
		s.rt.mu.Unlock()
		if current {
			_ = s.rt.write(frame{Topic: s.topic, Event: "phx_leave", Payload: json.RawMessage(`{}`)})
		}
	})
}

// rowFilter is a parsed "column=eq.value" expression.
type rowFilter struct {
	column string
	value  string
}

func parseRowFilter(expr string) rowFilter {
	if expr == "" {
		return rowFilter{}
	}
	col, rest, ok := strings.Cut(expr, "=eq.")
	if !ok {
		return rowFilter{}
	}
	return rowFilter{column: col, value: rest}
}

func (f rowFilter) matches(evt ChangeEvent) bool {
	if f.column == "" {
		return true
	}
	row := evt.New
	if evt.Kind == EventDelete {
		row = evt.Old
	}
	var m map[string]any
	if err := json.Unmarshal(row, &m); err != nil {
		return false
	}
	v, ok := m[f.column]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == f.value
}
