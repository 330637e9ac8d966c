package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/manpreetbhatti/wordrush/internal/ratelimit"
	protocol "github.com/manpreetbhatti/wordrush/internal/sync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// A publish frame plus envelope
	maxFrameSize = protocol.MaxPayloadBytes + 1024

	sendBuffer = 512

	// Consecutive over-limit frames before the connection is dropped
	maxRateViolations = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers connect from whatever origin serves the game client
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one member connection. The hub goroutine owns identity and
// closed; the pumps only touch the socket.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	roomID      string
	rateLimiter *ratelimit.Limiter
	remote      string

	identity string
	closed   bool
}

// Closes the outbound queue once; the write pump then closes the socket
func (c *Client) closeSend() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ServeWs upgrades a request for /ws?room={id} and hands the member to the hub
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("websocket upgrade")
		return
	}

	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		roomID:      roomID,
		rateLimiter: ratelimit.NewLimiter(hub.config.MessagesPerSecond, hub.config.MessageBurst),
		remote:      conn.RemoteAddr().String(),
	}

	select {
	case hub.register <- c:
	case <-hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump turns publish frames into hub messages until the socket fails
func (c *Client) readPump() {
	defer c.disconnect()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	violations := 0
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("remote", c.remote).Msg("websocket read")
			}
			return
		}

		if !c.rateLimiter.Allow() {
			violations++
			if violations%100 == 1 {
				log.Warn().Str("remote", c.remote).Str("room", c.roomID).Int("violations", violations).Msg("rate limit exceeded")
			}
			if violations > maxRateViolations {
				log.Warn().Str("remote", c.remote).Msg("dropping flooding client")
				return
			}
			continue
		}
		violations = 0

		msg, ok := c.admit(data)
		if !ok {
			continue
		}
		select {
		case c.hub.broadcast <- msg:
		case <-c.hub.done:
			return
		}
	}
}

// admit decodes a publish frame; anything else a member sends is ignored
func (c *Client) admit(data []byte) (*Message, bool) {
	if t := protocol.ParseFrameType(data); t != protocol.FramePublish {
		log.Debug().Str("type", string(t)).Str("remote", c.remote).Msg("ignoring non-publish frame")
		return nil, false
	}
	frame, err := protocol.Decode(data)
	if err == nil {
		err = protocol.ValidatePublish(frame)
	}
	if err != nil {
		log.Debug().Err(err).Str("remote", c.remote).Msg("ignoring frame")
		return nil, false
	}
	return &Message{RoomID: c.roomID, Topic: frame.Topic, Payload: frame.Payload, Sender: c}, true
}

func (c *Client) disconnect() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
}

// writePump drains the send queue in order and keeps the connection alive
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		var err error
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the queue: say goodbye after the last frame
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			err = c.conn.WriteMessage(websocket.TextMessage, data)

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}
