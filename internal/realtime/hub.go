// Package realtime fans newly created content out to live websocket sessions.
//
// A connection starts unauthenticated: it is registered, counted, and kept
// alive, but receives no content events. After the client presents a device
// ID and nickname (trust-the-caller — there is no password and no server-side
// proof) the session joins the authenticated broadcast group. Disconnection
// is terminal; a reconnect is a brand-new session.
//
// Delivery is best-effort, at most once per connected session. Nothing is
// queued or replayed for sessions that were away; clients reconcile by
// reloading. A session that can't keep up with the broadcast rate is dropped
// rather than allowed to stall everyone else.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sakif/chirp/internal/metrics"
	"github.com/sakif/chirp/internal/model"
)

// ContentSink is the write path for messages submitted over the socket.
// *service.PostService satisfies it; the fan-out of accepted submissions
// happens through the service's broadcaster exactly as for HTTP writes.
type ContentSink interface {
	Create(ctx context.Context, deviceID, displayName, text, parentID string) (*model.Post, error)
	ToggleEngagement(ctx context.Context, postID, deviceID string, kind model.EngagementKind) (string, *model.Post, error)
}

// Session is the identity attached to an authenticated connection.
type Session struct {
	DeviceID    string    `json:"deviceId"`
	Nickname    string    `json:"nickname"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// envelope is the wire format in both directions.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authRequest struct {
	client  *Client
	session *Session
}

// Hub owns the session registry. All registry mutation happens on the Run
// goroutine; other goroutines talk to it through channels, so the maps need
// no lock.
type Hub struct {
	sink   ContentSink
	logger *slog.Logger

	register     chan *Client
	unregister   chan *Client
	authenticate chan authRequest
	broadcast    chan []byte
	done         chan struct{}

	// clients maps every live connection to its session; nil until the
	// connection authenticates.
	clients map[*Client]*Session

	connected     atomic.Int64
	authenticated atomic.Int64
}

// NewHub creates a hub. sink may be nil, in which case post/engage messages
// over the socket are answered with an error event.
func NewHub(sink ContentSink, logger *slog.Logger) *Hub {
	return &Hub{
		sink:         sink,
		logger:       logger,
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		authenticate: make(chan authRequest),
		broadcast:    make(chan []byte, 64),
		done:         make(chan struct{}),
		clients:      make(map[*Client]*Session),
	}
}

// SetSink installs the write path for socket submissions. The hub and the
// post service reference each other, so one of them has to be completed
// after construction; call this before Run.
func (h *Hub) SetSink(sink ContentSink) {
	h.sink = sink
}

// Run processes registry changes and broadcasts until Stop is called.
// Call it on its own goroutine before accepting connections.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = nil
			h.connected.Store(int64(len(h.clients)))
			metrics.ConnectedSessions.Set(float64(len(h.clients)))
			h.logger.Info("session connected", slog.Int("sessions", len(h.clients)))
			h.broadcastMemberCount()

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("session disconnected", slog.Int("sessions", len(h.clients)))
				h.broadcastMemberCount()
			}

		case req := <-h.authenticate:
			if _, ok := h.clients[req.client]; !ok {
				break
			}
			h.clients[req.client] = req.session
			h.refreshCounts()
			h.logger.Info("session authenticated",
				slog.String("nickname", req.session.Nickname),
			)
			h.broadcastMemberCount()

		case msg := <-h.broadcast:
			for c, session := range h.clients {
				if session == nil {
					continue
				}
				h.offer(c, msg)
			}

		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// Stop shuts the hub down and closes every client's send channel, which in
// turn terminates their write pumps.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast marshals the event and fans it out to every authenticated
// session, including the one that caused it — the originator reconciles via
// the broadcast like everyone else. Satisfies service.Broadcaster.
func (h *Hub) Broadcast(event string, payload any) {
	msg, err := marshalEvent(event, payload)
	if err != nil {
		h.logger.Error("failed to marshal event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.EventsBroadcast.WithLabelValues(event).Inc()
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// SessionCount returns the number of live connections, authenticated or not.
func (h *Hub) SessionCount() int {
	return int(h.connected.Load())
}

// MemberCount returns the number of authenticated sessions.
func (h *Hub) MemberCount() int {
	return int(h.authenticated.Load())
}

// offer enqueues msg for one client, dropping the client if its send buffer
// is full.
func (h *Hub) offer(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("dropping slow session")
		h.drop(c)
	}
}

// drop removes the client from the registry and signals its pumps to stop.
// The send channel itself is never closed — the read pump may still be
// trying to enqueue a reply on it. Only the Run goroutine calls drop.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.closed)
	h.refreshCounts()
}

func (h *Hub) refreshCounts() {
	members := 0
	for _, s := range h.clients {
		if s != nil {
			members++
		}
	}
	h.connected.Store(int64(len(h.clients)))
	h.authenticated.Store(int64(members))
	metrics.ConnectedSessions.Set(float64(len(h.clients)))
	metrics.AuthenticatedSessions.Set(float64(members))
}

// broadcastMemberCount pushes the current authenticated-member count to
// every connection, authenticated or not, so lurkers see the room size too.
func (h *Hub) broadcastMemberCount() {
	msg, err := marshalEvent("memberCount", map[string]int{"count": h.MemberCount()})
	if err != nil {
		return
	}
	for c := range h.clients {
		h.offer(c, msg)
	}
}

func marshalEvent(event string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Payload: body})
}
