package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// Outbound messages queued per connection before it is dropped.
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	// Admin channels are authenticated by token and visitor channels are
	// opened from the decoy page on any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	errSendBufferFull = errors.New("websocket: send buffer full")
	errConnClosed     = errors.New("websocket: connection closed")
)

// wsConn adapts a websocket connection to hub.Conn. Send only enqueues; a
// single writePump goroutine owns every write to the socket, so a stalled
// peer never blocks the caller. A full buffer is reported as an error and
// the hub drops the channel.
type wsConn struct {
	conn *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

func (c *wsConn) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *wsConn) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// serve runs the read loop until the peer goes away or the connection is
// closed elsewhere. Text "ping" frames are answered with "pong".
func (c *wsConn) serve(logger *zap.Logger) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(logger)
	}()

	c.readLoop(logger)
	_ = c.Close()
	wg.Wait()
}

func (c *wsConn) readLoop(logger *zap.Logger) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if mt == websocket.TextMessage && strings.TrimSpace(string(msg)) == "ping" {
			if err := c.enqueue([]byte("pong")); err != nil {
				logger.Debug("websocket pong dropped", zap.Error(err))
				return
			}
		}
	}
}

// writePump sends queued messages one frame each, plus periodic pings.
func (c *wsConn) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
