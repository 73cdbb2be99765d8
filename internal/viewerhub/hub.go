// Package viewerhub tracks subscriber WebSocket connections and fans out
// raw and enhanced frame payloads to them. Broadcasts are bounded per
// subscriber: a consumer whose queue stays full past the send deadline
// loses that message, delays the broadcasting producer by at most that
// deadline, and does not delay delivery to the other subscribers.
package viewerhub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jaldrishti/videocore/internal/logging"
	"github.com/jaldrishti/videocore/internal/metrics"
)

// defaultSendDeadline is the hard per-send timeout for a broadcast attempt
// to a single viewer, used unless overridden by WithSendDeadline.
const defaultSendDeadline = 100 * time.Millisecond

// Client represents one connected viewer's outbound message queues. The
// WebSocket write pump (see ws.go) drains RawOut/DataOut/SystemOut; the hub
// never touches the network connection directly.
type Client struct {
	ID          string
	Label       string
	ConnectedAt time.Time

	allowed atomic.Bool

	RawOut    chan []byte
	DataOut   chan []byte
	SystemOut chan []byte
	Closed    chan struct{}
	closeOnce sync.Once
}

func newClient(id, label string) *Client {
	return &Client{
		ID:          id,
		Label:       label,
		ConnectedAt: time.Now(),
		RawOut:      make(chan []byte, 4),
		DataOut:     make(chan []byte, 4),
		SystemOut:   make(chan []byte, 4),
		Closed:      make(chan struct{}),
	}
}

// Close marks the client closed; idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// Allowed reports the viewer's current allow bit.
func (c *Client) Allowed() bool { return c.allowed.Load() }

// Info is the public, listable view of a viewer.
type Info struct {
	ViewerID    string    `json:"viewer_id"`
	Label       string    `json:"label"`
	Allowed     bool      `json:"allowed"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Hub is the viewer registry and broadcaster.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*Client
	autoAllow    bool
	sendDeadline time.Duration
	maxViewers   int
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithSendDeadline overrides the per-subscriber broadcast send deadline.
func WithSendDeadline(d time.Duration) Option {
	return func(h *Hub) { h.sendDeadline = d }
}

// WithMaxViewers caps the number of simultaneously registered viewers; 0
// (the default) means unlimited, matching the -max-viewers flag's
// semantics.
func WithMaxViewers(n int) Option {
	return func(h *Hub) { h.maxViewers = n }
}

// New creates an empty Hub. When autoAllow is true, newly registered
// viewers are allowed until the operator revokes them.
func New(autoAllow bool, opts ...Option) *Hub {
	h := &Hub{
		clients:      make(map[string]*Client),
		autoAllow:    autoAllow,
		sendDeadline: defaultSendDeadline,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register creates and stores a new Client, returning it so the caller can
// wire up its WebSocket connection. A viewer reconnecting with an id that
// is already registered displaces the old client. If the hub is at
// MaxViewers capacity, Register returns nil and the caller must refuse the
// connection.
func (h *Hub) Register(id, label string) *Client {
	c := newClient(id, label)
	c.allowed.Store(h.autoAllow)
	h.mu.Lock()
	prev, exists := h.clients[id]
	if !exists && h.maxViewers > 0 && len(h.clients) >= h.maxViewers {
		h.mu.Unlock()
		logging.L().Warn("viewer_register_rejected_at_capacity", "viewer_id", id, "max_viewers", h.maxViewers)
		return nil
	}
	h.clients[id] = c
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
		logging.L().Info("viewer_displaced_by_reconnect", "viewer_id", id)
	}
	metrics.SetViewerActive(h.Count())
	logging.L().Info("viewer_registered", "viewer_id", id, "label", label, "allowed", c.Allowed())
	return c
}

// Unregister removes a viewer from the registry; idempotent.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		c.Close()
		metrics.SetViewerActive(h.Count())
		logging.L().Info("viewer_unregistered", "viewer_id", id)
	}
}

// remove unregisters c only if it is still the registered client for its
// id, so a connection displaced by a reconnect cannot tear down its
// successor's registration.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.ID]
	if ok && cur == c {
		delete(h.clients, c.ID)
	} else {
		ok = false
	}
	h.mu.Unlock()
	c.Close()
	if ok {
		metrics.SetViewerActive(h.Count())
		logging.L().Info("viewer_unregistered", "viewer_id", c.ID)
	}
}

// Allow sets a viewer's allow bit to true. Returns false if no such viewer.
func (h *Hub) Allow(id string) bool { return h.setAllowed(id, true) }

// Revoke sets a viewer's allow bit to false. Returns false if no such viewer.
func (h *Hub) Revoke(id string) bool { return h.setAllowed(id, false) }

func (h *Hub) setAllowed(id string, v bool) bool {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	c.allowed.Store(v)
	return true
}

// IsAllowed reports whether id is both registered and currently allowed.
func (h *Hub) IsAllowed(id string) bool {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	return ok && c.Allowed()
}

// List returns a snapshot of all registered viewers plus summary counts.
func (h *Hub) List() (viewers []Info, total, allowed, blocked int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	viewers = make([]Info, 0, len(h.clients))
	for _, c := range h.clients {
		a := c.Allowed()
		viewers = append(viewers, Info{ViewerID: c.ID, Label: c.Label, Allowed: a, ConnectedAt: c.ConnectedAt})
		total++
		if a {
			allowed++
		} else {
			blocked++
		}
	}
	return
}

// Count returns the number of registered viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// snapshot returns the allowed subset of clients for a broadcast pass.
func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.Allowed() {
			out = append(out, c)
		}
	}
	return out
}

// BroadcastRaw delivers payload to every allowed viewer's raw channel,
// non-blocking with the per-subscriber send deadline.
func (h *Hub) BroadcastRaw(payload []byte) { h.broadcast(payload, func(c *Client) chan []byte { return c.RawOut }) }

// BroadcastData delivers payload to every allowed viewer's enhanced/data
// channel, with the same semantics as BroadcastRaw.
func (h *Hub) BroadcastData(payload []byte) { h.broadcast(payload, func(c *Client) chan []byte { return c.DataOut }) }

// BroadcastSystem delivers a system announcement to every registered
// viewer regardless of the allow bit (e.g. safe_mode transitions are
// informational, not payload data).
func (h *Hub) BroadcastSystem(payload []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	h.sendAll(clients, payload, func(c *Client) chan []byte { return c.SystemOut })
}

func (h *Hub) broadcast(payload []byte, pick func(*Client) chan []byte) {
	h.sendAll(h.snapshot(), payload, pick)
}

// sendAll sends payload to every client concurrently, so one subscriber
// waiting out its deadline does not delay the others, and returns once
// every send has been delivered or dropped.
func (h *Hub) sendAll(clients []*Client, payload []byte, pick func(*Client) chan []byte) {
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			h.sendOne(c, payload, pick(c))
		}(c)
	}
	wg.Wait()
}

func (h *Hub) sendOne(c *Client, payload []byte, ch chan []byte) {
	t := time.NewTimer(h.sendDeadline)
	defer t.Stop()
	select {
	case ch <- payload:
	case <-t.C:
		metrics.IncViewerDropped()
	case <-c.Closed:
	}
}
