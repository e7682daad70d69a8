package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scythe504/drawguess/internal/protocol"
	"github.com/scythe504/drawguess/internal/registry"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// frameConn is a registry.Conn that can also bound the handshake read.
type frameConn interface {
	registry.Conn
	SetReadDeadline(t time.Time) error
}

// ===== TCP =====

// tcpConn carries length-prefixed frames over a stream.
type tcpConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{conn: c, r: bufio.NewReader(c)}
}

func (c *tcpConn) ReadFrame() ([]byte, error) { return protocol.ReadFrame(c.r) }

func (c *tcpConn) WriteFrame(body []byte) error { return protocol.WriteFrame(c.conn, body) }

func (c *tcpConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

func (c *tcpConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *tcpConn) Close() error { return c.conn.Close() }

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// ===== WebSocket =====

// wsConn carries one frame body per WebSocket message. Replies use the
// message type the client last sent, so browsers speaking text get text.
type wsConn struct {
	ws      *websocket.Conn
	msgType atomic.Int32
	remote  string

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(ws *websocket.Conn, remote string) *wsConn {
	c := &wsConn{ws: ws, remote: remote, closed: make(chan struct{})}
	c.msgType.Store(websocket.BinaryMessage)
	ws.SetReadLimit(protocol.MaxFrameSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return c
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	typ, body, err := c.ws.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty frame", protocol.ErrMalformed)
	}
	c.msgType.Store(int32(typ))
	return body, nil
}

func (c *wsConn) WriteFrame(body []byte) error {
	return c.ws.WriteMessage(int(c.msgType.Load()), body)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func (c *wsConn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

func (c *wsConn) RemoteAddr() string { return c.remote }

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// keepalive pings the client until the connection closes. WriteControl may
// run alongside the session's writer.
func (c *wsConn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWait/6)); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
