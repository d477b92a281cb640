package render

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/avaviz/flowrender/pkg/streaming"
)

const (
	outboxSize        = 4096
	ackBuffer         = 16
	reconnectAttempts = 10
	maxRetryDelay     = 30 * time.Second
	writeTimeout      = 10 * time.Second
	ackTimeout        = 10 * time.Second
)

var errConnClosed = errors.New("viewer connection closed")

// connection owns the viewer socket. Frames leave through a single writer
// goroutine; acks come back through a reader goroutine.
type connection struct {
	mu     sync.Mutex
	sock   *ws.Conn
	closed bool
	quit   chan struct{}

	// writes serializes socket writes, gorilla allows one writer at a time.
	writes sync.Mutex

	outbox chan []byte
	acks   chan streaming.AckMessage

	target *url.URL

	// replay yields the messages that rebuild viewer state after a redial.
	replay func() [][]byte

	retryDelay time.Duration
	logger     *slog.Logger
}

// session is one dialed socket with its reader and writer. down closes on
// the first failure of either.
type session struct {
	sock *ws.Conn
	down chan struct{}
	once sync.Once
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		quit:       make(chan struct{}),
		outbox:     make(chan []byte, outboxSize),
		acks:       make(chan streaming.AckMessage, ackBuffer),
		retryDelay: time.Second,
		logger:     logger,
	}
}

// dial connects to rawURL. A non-empty secret is passed as the "secret"
// query parameter.
func (c *connection) dial(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid viewer URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	c.target = u

	sock, err := c.connect()
	if err != nil {
		return err
	}
	c.serve(sock)
	return nil
}

func (c *connection) connect() (*ws.Conn, error) {
	sock, _, err := ws.DefaultDialer.Dial(c.target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial viewer %s: %w", c.target.Host, err)
	}
	return sock, nil
}

// serve adopts sock as the live socket and starts its loops.
func (c *connection) serve(sock *ws.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = sock.Close()
		return
	}
	c.sock = sock
	c.mu.Unlock()

	s := &session{sock: sock, down: make(chan struct{})}
	go c.pump(s)
	go c.listen(s)
}

func (c *connection) writeTo(sock *ws.Conn, data []byte) error {
	c.writes.Lock()
	defer c.writes.Unlock()
	if err := sock.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return sock.WriteMessage(ws.BinaryMessage, data)
}

func (c *connection) shuttingDown() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// lost ends s and redials, at most once per session.
func (c *connection) lost(s *session, err error) {
	s.once.Do(func() {
		close(s.down)
		if c.shuttingDown() {
			return
		}
		c.logger.Warn("Viewer connection lost", "error", err)
		go c.redial()
	})
}

// pump moves queued messages from the outbox to the socket.
func (c *connection) pump(s *session) {
	for {
		select {
		case <-c.quit:
			return
		case <-s.down:
			return
		case data := <-c.outbox:
			if err := c.writeTo(s.sock, data); err != nil {
				c.lost(s, fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

// listen forwards viewer acks. Anything else the viewer sends is ignored.
func (c *connection) listen(s *session) {
	for {
		_, raw, err := s.sock.ReadMessage()
		if err != nil {
			c.lost(s, fmt.Errorf("read: %w", err))
			return
		}
		ack, ok := decodeAck(raw)
		if !ok {
			c.logger.Debug("Ignoring viewer message", "bytes", len(raw))
			continue
		}
		select {
		case c.acks <- ack:
		default:
			c.logger.Debug("Ack buffer full, dropping", "for", ack.For)
		}
	}
}

func decodeAck(raw []byte) (streaming.AckMessage, bool) {
	var ack streaming.AckMessage
	env, err := streaming.Unmarshal(raw)
	if err != nil || env.Type != streaming.TypeAck {
		return ack, false
	}
	if err := env.DecodePayload(&ack); err != nil {
		return ack, false
	}
	return ack, true
}

// redial reconnects with doubling delays, replays the viewer state onto
// the new socket and resumes serving it.
func (c *connection) redial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.mu.Unlock()

	delay := c.retryDelay
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		select {
		case <-c.quit:
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)

		sock, err := c.connect()
		if err != nil {
			c.logger.Warn("Viewer redial failed", "attempt", attempt, "error", err)
			continue
		}
		n, err := c.restore(sock)
		if err != nil {
			c.logger.Warn("Viewer state replay failed", "attempt", attempt, "error", err)
			_ = sock.Close()
			continue
		}
		c.logger.Info("Viewer reconnected", "attempt", attempt, "replayed", n)
		c.serve(sock)
		return
	}
	c.logger.Error("Giving up on viewer", "attempts", reconnectAttempts)
}

func (c *connection) restore(sock *ws.Conn) (int, error) {
	if c.replay == nil {
		return 0, nil
	}
	msgs := c.replay()
	for _, m := range msgs {
		if err := c.writeTo(sock, m); err != nil {
			return 0, err
		}
	}
	return len(msgs), nil
}

// send queues data for the writer. It reports false when the outbox is
// full and the message was dropped.
func (c *connection) send(data []byte) bool {
	select {
	case c.outbox <- data:
		return true
	default:
		c.logger.Warn("Viewer outbox full, dropping message")
		return false
	}
}

// sendAndWait queues data and waits for the viewer to ack the message type
// ackFor.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ack := <-c.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("no ack for %q within %s", ackFor, timeout)
		case <-c.quit:
			return fmt.Errorf("waiting for %q ack: %w", ackFor, errConnClosed)
		}
	}
}

// close says goodbye at the websocket level and stops every loop.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.quit)
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock == nil {
		return nil
	}
	c.writes.Lock()
	_ = sock.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	c.writes.Unlock()
	return sock.Close()
}
