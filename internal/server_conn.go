package internal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	slowConsumerLimit = 64
)

// Conn is a connection handle: one client's websocket plus a buffered send
// queue. Enqueueing never blocks; a client that keeps falling behind is
// disconnected.
type Conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	wsOnce    sync.Once
	dropped   atomic.Int64
	metrics   *Metrics
}

func newConn(ws *websocket.Conn, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Dropped reports how many frames were discarded because the queue was full.
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.metrics.IncDroppedFrame()
		if c.dropped.Add(1) >= slowConsumerLimit {
			// enqueue runs on a room goroutine; the write pump tears the socket down
			c.markClosed()
		}
		return false
	}
}

// markClosed stops delivery without touching the socket, so it never waits on
// a write in progress.
func (c *Conn) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Close is safe to call from any goroutine, any number of times. It must not
// be called from a room goroutine: the close frame can wait up to writeWait.
func (c *Conn) Close() {
	c.markClosed()
	c.closeSocket()
}

func (c *Conn) closeSocket() {
	if c.ws == nil {
		return
	}
	c.wsOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump(session *Session, readLimit int64) {
	defer session.Close()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				session.log.Debug("Websocket read ended", "conn", c.id, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		session.HandleFrame(frame)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
