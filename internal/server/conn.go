package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/avawsgw/internal/events"
)

// ErrConnectionClosed is returned when writing to a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// defaultCloseTimeout bounds the close handshake write when no write
// timeout is configured.
const defaultCloseTimeout = time.Second

// conn adapts a gorilla connection to gateway.Handle. Data frames are
// written under an exclusive lock; control frames may be written
// concurrently, as gorilla allows.
type conn struct {
	ws           *websocket.Conn
	id           string
	identity     events.Identity
	writeTimeout time.Duration

	wmu  sync.Mutex
	open atomic.Bool

	closeOnce   sync.Once
	mu          sync.Mutex
	localCode   int
	localReason string
}

func newConn(ws *websocket.Conn, id string, identity events.Identity, writeTimeout time.Duration) *conn {
	c := &conn{
		ws:           ws,
		id:           id,
		identity:     identity,
		writeTimeout: writeTimeout,
	}
	c.open.Store(true)
	return c
}

// Send writes payload as a text frame.
func (c *conn) Send(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if !c.open.Load() {
		return ErrConnectionClosed
	}
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and closes the socket. The read loop then
// reports code and reason to the gateway. Only the first call has an
// effect.
func (c *conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.localCode = code
		c.localReason = reason
		c.mu.Unlock()

		c.open.Store(false)

		timeout := c.writeTimeout
		if timeout <= 0 {
			timeout = defaultCloseTimeout
		}
		msg := websocket.FormatCloseMessage(code, reason)
		err = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
		if cerr := c.ws.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// IsOpen reports whether frames can still be written.
func (c *conn) IsOpen() bool {
	return c.open.Load()
}

// Identity returns the caller identity of the upgrade request.
func (c *conn) Identity() events.Identity {
	return c.identity
}

// serve runs the read loop until the connection ends, then reports the
// closure.
func (c *conn) serve(gw Gateway, readLimit int64) {
	if readLimit > 0 {
		c.ws.SetReadLimit(readLimit)
	}

	var readErr error
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			gw.OnMessage(c, data)
		}
	}

	c.open.Store(false)
	_ = c.ws.Close()

	code, reason := c.closeStatus(readErr)
	gw.OnClose(c, code, reason)
}

// closeStatus derives the close code and reason to report: the peer's
// close frame if one arrived, else the code this side closed with, else
// an abnormal closure.
func (c *conn) closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localCode != 0 {
		return c.localCode, c.localReason
	}
	return websocket.CloseAbnormalClosure, ""
}
