package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"PPRelay/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection is one authenticated client link. ws may be nil in tests, in
// which case frames only land in the send queue.
//
// alive and rooms belong to the Registry and are only touched under its lock.
type Connection struct {
	ID        string
	UserID    string // 握手后不再修改
	Remote    string
	CreatedAt time.Time

	ws        *websocket.Conn
	writeWait time.Duration
	send      chan []byte // 单写协程消费
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	alive bool
	rooms map[string]struct{}
}

func NewConnection(id, userID string, ws *websocket.Conn, queue int, writeWait time.Duration) *Connection {
	if queue <= 0 {
		queue = 256
	}
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	c := &Connection{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now(),
		ws:        ws,
		writeWait: writeWait,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
	}
	if ws != nil && ws.RemoteAddr() != nil {
		c.Remote = ws.RemoteAddr().String()
	}
	return c
}

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// Done is closed once the connection starts closing.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Push queues payload without blocking. A full queue or a closing
// connection is reported as an error and the payload is dropped.
func (c *Connection) Push(payload []byte) error {
	select {
	case <-c.done:
		return errs.ErrConnClosed.WrapMsg("push", "conn", c.ID)
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errs.ErrDeliveryFailure.WrapMsg("send queue full", "conn", c.ID, "cap", cap(c.send))
	}
}

// Ping sends a protocol ping. WriteControl may run alongside the write pump.
func (c *Connection) Ping() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close sends a close frame with code/reason and closes the socket.
// Only the first call (Close or Terminate) has any effect.
func (c *Connection) Close(code int, reason string) bool {
	return c.shutdown(true, code, reason)
}

// Terminate drops the socket without a close handshake; used for dead peers.
func (c *Connection) Terminate() bool {
	return c.shutdown(false, 0, "")
}

func (c *Connection) shutdown(handshake bool, code int, reason string) bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		if c.State() == StateOpen {
			c.setState(StateClosing)
		}
		close(c.done)
		if c.ws == nil {
			return
		}
		if handshake {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		}
		_ = c.ws.Close()
	})
	return first
}

// writePump 唯一的写协程：业务帧按入队顺序写出
func (c *Connection) writePump(log *zap.Logger) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Info("write failed, terminating", zap.String("conn", c.ID), zap.String("user", c.UserID), zap.Error(err))
				c.Terminate()
				return
			}
		}
	}
}
