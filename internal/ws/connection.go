package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/metrics"
)

// socket is the subset of *websocket.Conn the pumps use.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendBuffer     int
	// inbound frames per second and burst; zero disables limiting
	EventsPerSecond float64
	Burst           int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteDeadline <= 0 {
		o.WriteDeadline = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// Connection is one live websocket. It implements hub.Conn.
type Connection struct {
	id      string
	userID  string
	sock    socket
	opts    Options
	send    chan hub.Event
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func newConnection(sock socket, userID string, opts Options, m *metrics.Metrics, log *zap.SugaredLogger) *Connection {
	opts = opts.withDefaults()
	c := &Connection{
		id:      uuid.NewString(),
		userID:  userID,
		sock:    sock,
		opts:    opts,
		send:    make(chan hub.Event, opts.SendBuffer),
		done:    make(chan struct{}),
		metrics: m,
		log:     log,
	}
	if opts.EventsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.EventsPerSecond)
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.EventsPerSecond), burst)
	}
	return c
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }

// Deliver queues ev without blocking. On a full queue an ephemeral event is dropped and
// any other event closes the connection.
func (c *Connection) Deliver(ev hub.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
	}
	if ev.Ephemeral {
		if c.metrics != nil {
			c.metrics.Dropped.WithLabelValues(ev.Type).Inc()
		}
		return false
	}
	c.log.Warnw("send queue full, closing connection", "conn_id", c.id, "user_id", c.userID, "event", ev.Type)
	if c.metrics != nil {
		c.metrics.SlowKicks.Inc()
	}
	c.Close()
	return false
}

// Close is idempotent. Closing the socket unblocks the read pump, which then runs the
// disconnect path.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}

// goingAway tells the peer the server is shutting down, then closes.
func (c *Connection) goingAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteDeadline))
	c.Close()
}

// Done is closed once the connection is shutting down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// readPump hands each frame to handle, or to throttled when the inbound limiter refuses it.
func (c *Connection) readPump(handle, throttled func(data []byte)) {
	defer c.Close()

	c.sock.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("read error", "conn_id", c.id, "err", err)
			}
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			if throttled != nil {
				throttled(data)
			}
			continue
		}
		handle(data)
	}
}

// writePump drains the send queue and pings on every tick; onPing runs after each ping.
func (c *Connection) writePump(onPing func()) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			b, err := json.Marshal(ev)
			if err != nil {
				c.log.Errorw("marshal event", "event", ev.Type, "err", err)
				continue
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.opts.WriteDeadline))
			if err := c.sock.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteDeadline)); err != nil {
				return
			}
			if onPing != nil {
				onPing()
			}
		}
	}
}

// writeDirect bypasses the queue. Only valid before writePump starts.
func (c *Connection) writeDirect(ev hub.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.opts.WriteDeadline))
	return c.sock.WriteMessage(websocket.TextMessage, b)
}
