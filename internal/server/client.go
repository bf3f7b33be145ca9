package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-converse/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one live transport session bound to exactly one authenticated
// user. The user is set once, before registration, and never changes for the
// connection's lifetime.
type Client struct {
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         *log.Logger
	user        types.User
	sessionId   string
	connectedAt time.Time
	send        chan *ServerMessage
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:        conn,
		chatServer:  cs,
		log:         l,
		user:        user,
		sessionId:   uuid.NewString(),
		connectedAt: Now(),
		send:        make(chan *ServerMessage, 256),
		stop:        make(chan struct{}),
	}
}

// Write drains the send buffer onto the socket and keeps the connection
// alive with pings. It owns all writes to the socket.
func (c *Client) Write() {
	pinger := time.NewTicker(pingInterval)
	defer func() {
		pinger.Stop()
		c.conn.Close()
		c.log.Printf("write pump done, session %s", c.sessionId)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			raw, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("serialize:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, raw) {
				return
			}
		case <-c.stop:
			return
		case <-pinger.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read parses inbound envelopes and hands them to the server. The sender
// identity on every routed message comes from the connection's bound user,
// never from the payload.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read pump done, session %s", c.sessionId)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if isUnexpectedClose(err) {
				c.log.Printf("ws read: %v", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		if msg.Publish == nil && msg.History == nil {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.chatServer.route(&msg)
	}
}

// queueMessage enqueues a message for delivery on this connection. It never
// blocks: a full buffer drops the message and reports false so the caller
// can count the delivery failure.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Printf("send buffer full, dropping message for session %s", c.sessionId)
		return false
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) writeFrame(frameType int, payload []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(frameType, payload); err != nil {
		if isUnexpectedClose(err) {
			c.log.Printf("ws write: %v", err)
		}
		return false
	}

	return true
}

func isUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	)
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.UnregisterClient(c)
	c.stopClient()
}
