// Package wschannel implements the signaling Channel over a WebSocket
// client connection. The connection is kept alive with pings and redialed
// with capped exponential backoff; the room join is replayed after every
// reconnect so the server re-registers the peer.
package wschannel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snowball-robotics/roverlink/internal/metrics"
	"github.com/snowball-robotics/roverlink/internal/signaling"
)

const (
	writeWait       = 1 * time.Second
	pongWait        = 30 * time.Second
	pingInterval    = 20 * time.Second
	dialTimeout     = 5 * time.Second
	maxMessageBytes = 64 * 1024
)

type Config struct {
	URL string

	// Backoff bounds for redialing. Zero values get defaults.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Channel struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	msgs      chan signaling.Message
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	conn     *websocket.Conn
	lastJoin *signaling.Message
}

var _ signaling.Channel = (*Channel)(nil)

// Dial connects to the signaling server. The initial dial must succeed;
// later disconnects are handled internally.
func Dial(cfg Config) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("wschannel: missing url")
	}
	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectMinDelay {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Channel{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "wschannel")),
		metrics: cfg.Metrics,
		msgs:    make(chan signaling.Message, 16),
		done:    make(chan struct{}),
	}

	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("wschannel: dial %s: %w", cfg.URL, err)
	}
	c.setConn(conn)

	go c.run(conn)
	return c, nil
}

func (c *Channel) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageBytes)
	return conn, nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Send encodes and writes a message on the current connection. Join
// messages are remembered so they can be replayed after a reconnect.
func (c *Channel) Send(msg signaling.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Type == signaling.TypeRoomJoin {
		join := msg
		c.lastJoin = &join
	}
	if c.conn == nil {
		return fmt.Errorf("wschannel: not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) Messages() <-chan signaling.Message { return c.msgs }

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return nil
}

// run owns the read side for the channel's lifetime: it drains one
// connection, then redials until Close.
func (c *Channel) run(conn *websocket.Conn) {
	defer close(c.msgs)

	for {
		c.readLoop(conn)

		select {
		case <-c.done:
			return
		default:
		}

		c.setConn(nil)
		next, ok := c.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("signaling read failed", slog.String("err", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := signaling.ParseMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed signaling message", slog.String("err", err.Error()))
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// reconnect redials with capped exponential backoff and replays the room
// join. Returns false once the channel is closed.
func (c *Channel) reconnect() (*websocket.Conn, bool) {
	delay := c.cfg.ReconnectMinDelay
	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(delay):
		}

		conn, err := c.dial()
		if err != nil {
			c.logger.Warn("signaling redial failed",
				slog.String("err", err.Error()),
				slog.Duration("next_delay", delay))
			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
			continue
		}

		c.setConn(conn)
		if c.metrics != nil {
			c.metrics.Inc(metrics.SignalingReconnects)
		}
		c.logger.Info("signaling reconnected", slog.String("url", c.cfg.URL))

		c.mu.Lock()
		join := c.lastJoin
		c.mu.Unlock()
		if join != nil {
			if err := c.Send(*join); err != nil {
				c.logger.Warn("rejoin failed", slog.String("err", err.Error()))
			}
		}
		return conn, true
	}
}
