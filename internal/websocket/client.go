package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/liga-sync/internal/auth"
	"github.com/liga-sync/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS layer and the token
		return true
	},
}

// TokenVerifier validates the credential presented on upgrade
type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// Client represents a WebSocket client connection
type Client struct {
	id      string
	subject string
	expires time.Time
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	logger  *slog.Logger
}

// NewClient creates a new WebSocket client whose connection ends when expires passes
func NewClient(hub *Hub, conn *websocket.Conn, subject string, expires time.Time, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:      id,
		subject: subject,
		expires: expires,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		logger:  logger.With("client_id", id),
	}
}

// readPump pumps control frames from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			break
		}

		var frame domain.ControlFrame
		if err := sonic.Unmarshal(message, &frame); err != nil {
			c.logger.Warn("invalid control frame", "error", err)
			c.queue(reply(domain.ReplyError, domain.RoomKey{}, "invalid message format"))
			continue
		}

		c.handleFrame(frame)
	}
}

// handleFrame processes join, leave and ping frames
func (c *Client) handleFrame(frame domain.ControlFrame) {
	if frame.Type == domain.ControlPing {
		c.queue(reply(domain.ReplyPong, domain.RoomKey{}, ""))
		return
	}

	room, err := frame.Room()
	if err != nil {
		c.logger.Debug("rejected control frame", "type", frame.Type, "error", err)
		c.queue(reply(domain.ReplyError, domain.RoomKey{}, err.Error()))
		return
	}

	if frame.IsJoin() {
		c.hub.Join(c, room)
		c.queue(reply(domain.ReplyJoined, room, ""))
		return
	}
	c.hub.Leave(c, room)
	c.queue(reply(domain.ReplyLeft, room, ""))
}

// writePump pumps messages from the hub to the WebSocket connection and
// closes it with CloseAuthExpired once the token runs out.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	expiry := time.NewTimer(time.Until(c.expires))
	defer func() {
		ticker.Stop()
		expiry.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-expiry.C:
			c.logger.Info("token expired, closing connection", "subject", c.subject)
			msg := websocket.FormatCloseMessage(domain.CloseAuthExpired, "token expired")
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) queue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// ServeWs authenticates and upgrades a websocket request. Invalid tokens are
// rejected with 401 before the upgrade.
func ServeWs(hub *Hub, verifier TokenVerifier, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	claims, err := verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		logger.Debug("websocket auth rejected", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, claims.Subject, claims.Expiry(), logger)
	hub.Register(client)

	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id, "subject", claims.Subject)
}
