package relay

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/scriptroom/scriptroom/internal/core/observability/log"
)

// State is the lifecycle state of a relay connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is one client's websocket session, scoped to a single room.
// It carries no document state; the relay only routes its frames. Each
// connection drains its own outbound queue so one slow receiver cannot
// stall the rest of the room.
type Connection struct {
	id   string
	room string
	conn *websocket.Conn

	state int32 // atomic State

	sendQ  chan []byte
	closed chan struct{}

	config Config
	logger log.Log

	connectedAt  time.Time
	lastActivity int64 // atomic unix timestamp

	// Metrics
	messagesSent     uint64
	messagesReceived uint64
	bytesSent        uint64
	bytesReceived    uint64
}

func newConnection(conn *websocket.Conn, room string, config Config, logger log.Log) *Connection {
	now := time.Now()
	c := &Connection{
		id:           uuid.NewString(),
		room:         room,
		conn:         conn,
		sendQ:        make(chan []byte, config.SendQueueDepth),
		closed:       make(chan struct{}),
		config:       config,
		connectedAt:  now,
		lastActivity: now.Unix(),
	}
	c.logger = logger.With(log.String("conn", c.id), log.String("room", room))
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Room returns the room this connection is subscribed to.
func (c *Connection) Room() string {
	return c.room
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Connection) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// enqueue places a payload on the outbound queue. The queue is bounded;
// a full queue means the receiver has fallen too far behind and the
// connection should be closed rather than block the room.
func (c *Connection) enqueue(payload []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	select {
	case c.sendQ <- payload:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// writeLoop drains the outbound queue until the connection closes.
func (c *Connection) writeLoop() {
	for {
		select {
		case payload := <-c.sendQ:
			if c.config.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				c.logger.Debug("write failed", log.Error(err))
				c.closeWithReason("write failed")
				return
			}
			atomic.AddUint64(&c.messagesSent, 1)
			atomic.AddUint64(&c.bytesSent, uint64(len(payload)))
			atomic.StoreInt64(&c.lastActivity, time.Now().Unix())
		case <-c.closed:
			return
		}
	}
}

// readFrame blocks for the next binary frame from the client.
func (c *Connection) readFrame() ([]byte, error) {
	if c.State() == StateClosed {
		return nil, ErrConnectionClosed
	}
	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read frame")
		}
		// Update payloads are always binary frames; anything else is
		// skipped without tearing the connection down.
		if messageType != websocket.BinaryMessage {
			continue
		}
		atomic.AddUint64(&c.messagesReceived, 1)
		atomic.AddUint64(&c.bytesReceived, uint64(len(data)))
		atomic.StoreInt64(&c.lastActivity, time.Now().Unix())
		return data, nil
	}
}

// Close transitions the connection to Closed and releases the socket.
func (c *Connection) Close() error {
	return c.closeWithReason("connection closed")
}

func (c *Connection) closeWithReason(reason string) error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(StateOpen), int32(StateClosed)) {
		if !atomic.CompareAndSwapInt32(&c.state, int32(StateConnecting), int32(StateClosed)) {
			return nil // already closed
		}
	}
	close(c.closed)

	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	return c.conn.Close()
}

// LastActivity returns the time of the last frame in either direction.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(atomic.LoadInt64(&c.lastActivity), 0)
}

// BytesRelayed reports total bytes received from and sent to this client.
func (c *Connection) BytesRelayed() (in, out uint64) {
	return atomic.LoadUint64(&c.bytesReceived), atomic.LoadUint64(&c.bytesSent)
}
