package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/chirp/internal/apperror"
	"github.com/sakif/chirp/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// maxMessageSize bounds inbound frames. The largest legitimate message
	// is a post body (280 code points, up to 4 bytes each) plus envelope.
	maxMessageSize = 4096

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The service trusts client-held identity anyway; origin checking
	// would add nothing.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one live connection. The hub's Run goroutine owns its registry
// entry; the read pump owns the identity fields; the write pump owns the
// connection's write side.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// closed is shut by the hub when the client leaves the registry. The
	// send channel is never closed, so enqueueing a reply can't panic.
	closed chan struct{}

	// Set by the read pump on successful authentication, read only there.
	deviceID string
	nickname string
}

// HandleConnection upgrades the request and starts the connection's pumps.
// Mounted on the router at /ws.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}

		switch msg.Event {
		case "authenticate":
			c.handleAuthenticate(msg.Payload)
		case "post":
			c.handlePost(msg.Payload)
		case "engage":
			c.handleEngage(msg.Payload)
		case "ping":
			c.reply("pong", map[string]int64{"time": time.Now().Unix()})
		default:
			c.sendError("unknown event")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleAuthenticate(payload json.RawMessage) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.DeviceID == "" || req.Nickname == "" {
		c.sendError("authenticate requires deviceId and nickname")
		return
	}

	session := &Session{
		DeviceID:    req.DeviceID,
		Nickname:    req.Nickname,
		ConnectedAt: time.Now().UTC(),
	}
	select {
	case c.hub.authenticate <- authRequest{client: c, session: session}:
	case <-c.hub.done:
		return
	}
	c.deviceID = req.DeviceID
	c.nickname = req.Nickname
	c.reply("authenticated", session)
}

func (c *Client) handlePost(payload json.RawMessage) {
	if c.deviceID == "" {
		c.sendError("authenticate first")
		return
	}
	if c.hub.sink == nil {
		c.sendError("posting over the socket is disabled")
		return
	}
	var req struct {
		Content  string `json:"content"`
		ParentID string `json:"parentId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("malformed post")
		return
	}

	// The accepted post reaches this session through the broadcast, like
	// every other session; only failures are answered directly.
	if _, err := c.hub.sink.Create(context.Background(), c.deviceID, c.nickname, req.Content, req.ParentID); err != nil {
		c.sendError(clientMessage(err))
	}
}

func (c *Client) handleEngage(payload json.RawMessage) {
	if c.deviceID == "" {
		c.sendError("authenticate first")
		return
	}
	if c.hub.sink == nil {
		c.sendError("engaging over the socket is disabled")
		return
	}
	var req struct {
		PostID string `json:"postId"`
		Kind   string `json:"kind"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("malformed engagement")
		return
	}

	if _, _, err := c.hub.sink.ToggleEngagement(context.Background(), req.PostID, c.deviceID, model.EngagementKind(req.Kind)); err != nil {
		c.sendError(clientMessage(err))
	}
}

// reply sends an event to this connection only.
func (c *Client) reply(event string, payload any) {
	msg, err := marshalEvent(event, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	case <-c.closed:
	default:
	}
}

func (c *Client) sendError(message string) {
	c.reply("error", map[string]string{"message": message})
}

// clientMessage picks the message safe to put on the wire: the typed message
// for domain errors, a generic one for everything else. Raw internals never
// reach the client, same as the HTTP error mapping.
func clientMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "request failed"
}
