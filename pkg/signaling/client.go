package signaling

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/confmesh/confmesh/pkg/logger"
)

const (
	handshakeTimeout  = 10 * time.Second
	keepaliveInterval = 30 * time.Second
	inboundQueueSize  = 256
)

// Client is the WebSocket implementation of Channel. One reader goroutine
// feeds a buffered inbound queue drained by exactly one dispatch goroutine,
// so the registered handler never runs for two messages concurrently and
// sees them in arrival order.
type Client struct {
	url    string
	logger *logger.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	handler Handler
	selfID  string

	inbound   chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

var _ Channel = (*Client)(nil)

// NewClient creates a signaling client for the given server URL.
func NewClient(url string, log *logger.Logger) *Client {
	return &Client{
		url:     url,
		logger:  log.Named("Signaling"),
		inbound: make(chan *Message, inboundQueueSize),
		done:    make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the reader and the
// dispatch consumer. A connection failure is returned to the caller; the
// join flow treats it as fatal.
func (c *Client) Connect() error {
	// Convert http:// to ws:// and https:// to wss://
	wsURL := c.url
	if after, ok := strings.CutPrefix(wsURL, "http://"); ok {
		wsURL = "ws://" + after
	} else if after, ok := strings.CutPrefix(wsURL, "https://"); ok {
		wsURL = "wss://" + after
	}

	c.logger.Printf("Connecting to %s", wsURL)

	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to signaling server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Printf("Connected")

	go c.readMessages(conn)
	go c.dispatchMessages()
	go c.keepalive(conn)

	return nil
}

// OnMessage registers the single inbound message handler.
func (c *Client) OnMessage(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// JoinRoom sends the membership intent and records the local user id, which
// the reader uses to discard messages addressed to other participants.
func (c *Client) JoinRoom(roomID, userID string) error {
	c.mu.Lock()
	c.selfID = userID
	c.mu.Unlock()

	return c.send(&Message{Type: TypeJoin, RoomID: roomID, UserID: userID})
}

// LeaveRoom sends the leave intent
func (c *Client) LeaveRoom(roomID, userID string) error {
	return c.send(&Message{Type: TypeLeave, RoomID: roomID, UserID: userID})
}

// SendOffer transmits one offer message
func (c *Client) SendOffer(roomID, fromUser, toUser, sdp string) error {
	return c.send(&Message{Type: TypeOffer, RoomID: roomID, FromUser: fromUser, ToUser: toUser, SDP: sdp})
}

// SendAnswer transmits one answer message
func (c *Client) SendAnswer(roomID, fromUser, toUser, sdp string) error {
	return c.send(&Message{Type: TypeAnswer, RoomID: roomID, FromUser: fromUser, ToUser: toUser, SDP: sdp})
}

// SendICECandidate transmits one ICE candidate message
func (c *Client) SendICECandidate(roomID, fromUser, toUser, candidate string) error {
	return c.send(&Message{Type: TypeICECandidate, RoomID: roomID, FromUser: fromUser, ToUser: toUser, Candidate: candidate})
}

func (c *Client) send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected to signaling server")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// readMessages reads inbound frames and enqueues them for the dispatcher.
func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Printf("Read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Printf("Failed to unmarshal message: %v", err)
			continue
		}

		c.mu.RLock()
		selfID := c.selfID
		c.mu.RUnlock()

		// Targeted messages for someone else never reach the handler.
		if selfID != "" && !msg.AddressedTo(selfID) {
			continue
		}

		select {
		case c.inbound <- &msg:
		case <-c.done:
			return
		}
	}
}

// dispatchMessages is the single consumer of the inbound queue.
func (c *Client) dispatchMessages() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.inbound:
			c.mu.RLock()
			handler := c.handler
			c.mu.RUnlock()

			if handler != nil {
				handler(msg)
			} else {
				c.logger.Printf("No handler for message type: %s", msg.Type)
			}
		}
	}
}

// keepalive sends periodic ping frames
func (c *Client) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil {
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Printf("Ping failed: %v", err)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Disconnect closes the connection and stops the reader and dispatcher.
// Safe to call multiple times.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}

		c.logger.Printf("Connection closed")
	})
}
