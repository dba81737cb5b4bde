package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pingPeriod  = 30 * time.Second
	readTimeout = 60 * time.Second
	sendBuffer  = 128
)

var errConnClosed = errors.New("connection closed")

// Connection wraps a websocket and funnels every outbound write through one
// goroutine. It is safe for concurrent use.
type Connection struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
	done   chan struct{}
}

// NewConnection constructs a Connection for the given user.
func NewConnection(userID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A client too slow to drain its buffer is
// disconnected; it reloads state on reconnect.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return errConnClosed
	default:
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close flushes what is queued, sends a close frame and closes the socket.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		<-c.done
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	defer close(c.done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			c.drain()
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) drain() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
