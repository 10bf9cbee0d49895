package session

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scriptroom/scriptroom/internal/core/events"
	"github.com/scriptroom/scriptroom/internal/core/observability/log"
)

const (
	reconnectInitialBackoff = 250 * time.Millisecond
	reconnectMaxBackoff     = 30 * time.Second
	sendQueueDepth          = 1024
)

// Conn maintains one client's websocket to the relay for a single room.
// Sends are fire-and-forget: payloads queue in memory while the relay is
// unreachable, and the dial loop retries with bounded exponential
// backoff until Close cancels it. Local editing never waits on any of
// this.
type Conn struct {
	url    string
	header http.Header
	room   string

	logger log.Log
	bus    *events.Bus

	state  int32 // atomic ConnState
	closed chan struct{}
	done   chan struct{}

	sendQ chan []byte

	onPayload func([]byte)
	onOpen    func()
}

func newConn(url string, header http.Header, room string, logger log.Log, bus *events.Bus) *Conn {
	return &Conn{
		url:    url,
		header: header,
		room:   room,
		logger: logger.With(log.String("component", "conn"), log.String("room", room)),
		bus:    bus,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		sendQ:  make(chan []byte, sendQueueDepth),
	}
}

// State returns the current transport state.
func (c *Conn) State() ConnState {
	return ConnState(atomic.LoadInt32(&c.state))
}

func (c *Conn) setState(s ConnState) {
	if ConnState(atomic.SwapInt32(&c.state, int32(s))) == s {
		return
	}
	c.bus.Publish(events.NewEvent(EventConnState, c.room, s))
}

// start launches the dial loop. onPayload receives every binary frame;
// onOpen fires after each successful handshake, before any frames flow.
func (c *Conn) start(onPayload func([]byte), onOpen func()) {
	c.onPayload = onPayload
	c.onOpen = onOpen
	go c.run()
}

// Enqueue queues a payload for transmission. A full queue drops the
// payload; it is already persisted locally and the snapshot sent on the
// next reconnect carries its effect to peers.
func (c *Conn) Enqueue(payload []byte) {
	select {
	case c.sendQ <- payload:
	case <-c.closed:
	default:
		c.logger.Warn("send queue full, dropping payload", log.Int("bytes", len(payload)))
	}
}

// Close tears the connection down and cancels any pending reconnect
// timer. It does not return until the dial loop has exited.
func (c *Conn) Close() {
	select {
	case <-c.closed:
		return
	default:
	}
	close(c.closed)
	<-c.done
	c.setState(ConnClosed)
}

func (c *Conn) run() {
	defer close(c.done)

	backoff := reconnectInitialBackoff
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		c.setState(ConnConnecting)
		ws, _, err := websocket.DefaultDialer.Dial(c.url, c.header)
		if err != nil {
			c.logger.Debug("dial failed",
				log.Error(err),
				log.Duration("retry_in", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-c.closed:
				return
			}
			if backoff *= 2; backoff > reconnectMaxBackoff {
				backoff = reconnectMaxBackoff
			}
			continue
		}

		backoff = reconnectInitialBackoff
		c.setState(ConnOpen)
		c.logger.Info("connected")
		if c.onOpen != nil {
			c.onOpen()
		}

		c.serve(ws)

		select {
		case <-c.closed:
			return
		default:
			c.logger.Info("disconnected, will reconnect")
		}
	}
}

// serve pumps one live socket until it fails or the Conn closes.
func (c *Conn) serve(ws *websocket.Conn) {
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case payload := <-c.sendQ:
				if err := ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
					c.logger.Debug("write failed", log.Error(err))
					_ = ws.Close()
					return
				}
			case <-stop:
				return
			case <-c.closed:
				_ = ws.Close()
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if c.onPayload != nil {
			c.onPayload(data)
		}
	}

	close(stop)
	_ = ws.Close()
	<-writerDone
}
