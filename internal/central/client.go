// Package central maintains the persistent websocket channel to the backend
package central

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send when the channel is not up
var ErrNotConnected = errors.New("central channel not connected")

// maxMessageSize bounds inbound messages from the backend
const maxMessageSize = 512 * 1024

// State is the connectivity of the persistent channel
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the channel settings
type Config struct {
	URL              string
	ReconnectBackoff time.Duration // fixed delay between attempts
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration // how long past a ping a pong may arrive
	WriteTimeout     time.Duration

	// Header supplies handshake headers (auth) for each dial. Optional.
	Header func() (http.Header, error)
	// OnMessage receives every inbound message. Optional; called from the
	// reader goroutine, so it must not block.
	OnMessage func(msg []byte)
}

// ConnectionError is a dial, liveness or write failure. It is never fatal:
// the reconnect loop handles it.
type ConnectionError struct {
	Op  string // dial, read, ping, write
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("central %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Client manages the persistent channel and its reconnect loop
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	state atomic.Int32

	// mu guards conn and serializes data writes
	mu   sync.Mutex
	conn *websocket.Conn

	// Stats
	connects         atomic.Uint64
	connectFailures  atomic.Uint64
	messagesSent     atomic.Uint64
	sendErrors       atomic.Uint64
	messagesReceived atomic.Uint64
	lastMessage      atomic.Value // string
	lastConnectedAt  atomic.Int64 // unix seconds

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient creates a channel client. Call Start to begin connecting.
func NewClient(cfg Config) *Client {
	c := &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		stopChan: make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))
	c.lastMessage.Store("")
	return c
}

// Start runs the reconnect loop in the background until ctx is cancelled or
// Stop is called
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.connectLoop(ctx)
}

// Stop closes the channel and waits for the loop to exit
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})

	c.mu.Lock()
	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "sensor shutting down"),
			time.Now().Add(time.Second),
		)
		c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.setState(StateDisconnected)
	log.Println("📡 Central channel stopped")
}

// State returns the current connectivity. The value is advisory: the
// channel can drop right after it is read.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected returns true if the channel is up
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// connectLoop dials, listens until the channel drops, waits the backoff, and
// repeats. It only returns on shutdown.
func (c *Client) connectLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if c.stopping(ctx) {
			return
		}

		c.setState(StateConnecting)
		log.Printf("📡 Connecting to central channel: %s", c.cfg.URL)

		conn, err := c.dial(ctx)
		if err != nil {
			c.connectFailures.Add(1)
			c.setState(StateDisconnected)
			log.Printf("⚠️ %v (retrying in %s)", err, c.cfg.ReconnectBackoff)
			if !c.wait(ctx, c.cfg.ReconnectBackoff) {
				return
			}
			continue
		}

		c.attach(conn)
		log.Printf("✅ Connected to central channel: %s", c.cfg.URL)

		err = c.listen(ctx, conn)
		c.detach(conn)

		if c.stopping(ctx) {
			return
		}
		log.Printf("📡 Central channel lost: %v (reconnecting in %s)", err, c.cfg.ReconnectBackoff)
		if !c.wait(ctx, c.cfg.ReconnectBackoff) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var header http.Header
	if c.cfg.Header != nil {
		h, err := c.cfg.Header()
		if err != nil {
			return nil, &ConnectionError{Op: "dial", URL: c.cfg.URL, Err: fmt.Errorf("failed to build handshake headers: %w", err)}
		}
		header = h
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, &ConnectionError{Op: "dial", URL: c.cfg.URL, Err: err}
	}
	return conn, nil
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.connects.Add(1)
	c.lastConnectedAt.Store(time.Now().Unix())
	c.setState(StateConnected)
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	conn.Close()
	c.setState(StateDisconnected)
}

// listen reads inbound messages until the connection fails. Liveness: the
// read deadline is pushed forward by every pong or message, and a pinger
// sends a ping each interval. A silent peer therefore fails the read.
func (c *Client) listen(ctx context.Context, conn *websocket.Conn) error {
	liveness := c.cfg.PingInterval + c.cfg.PingTimeout

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(liveness))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveness))
	})

	done := make(chan struct{})
	defer close(done)

	go c.pingLoop(conn, done)

	// Unblock ReadMessage on shutdown
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-c.stopChan:
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return &ConnectionError{Op: "read", URL: c.cfg.URL, Err: err}
		}
		conn.SetReadDeadline(time.Now().Add(liveness))

		c.messagesReceived.Add(1)
		c.lastMessage.Store(preview(msg))
		log.Printf("📥 Received from central: %s", preview(msg))

		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(msg)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Printf("⚠️ Central ping failed: %v", err)
				// Closing fails the pending read, which ends listen
				conn.Close()
				return
			}
		}
	}
}

// Send writes one text message. It fails fast with ErrNotConnected instead
// of queuing, and a write failure marks the channel stale so the loop
// reconnects.
func (c *Client) Send(payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err := conn.WriteMessage(websocket.TextMessage, payload)
	c.mu.Unlock()

	if err != nil {
		c.sendErrors.Add(1)
		c.markStale(conn)
		return &ConnectionError{Op: "write", URL: c.cfg.URL, Err: err}
	}

	c.messagesSent.Add(1)
	return nil
}

// markStale flags the channel down after a failed send. The reader sees the
// closed socket and the loop reconnects.
func (c *Client) markStale(conn *websocket.Conn) {
	c.mu.Lock()
	current := c.conn == conn
	c.mu.Unlock()

	if current {
		c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected))
		conn.Close()
	}
}

func (c *Client) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

// wait sleeps for d, returning false if shutdown happened first
func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-c.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

// Stats holds channel statistics
type Stats struct {
	State            string `json:"state"`
	URL              string `json:"url"`
	Connects         uint64 `json:"connects"`
	ConnectFailures  uint64 `json:"connectFailures"`
	MessagesSent     uint64 `json:"messagesSent"`
	SendErrors       uint64 `json:"sendErrors"`
	MessagesReceived uint64 `json:"messagesReceived"`
	LastMessage      string `json:"lastMessage,omitempty"`
	LastConnectedAt  int64  `json:"lastConnectedAt,omitempty"`
}

// Stats returns current stats
func (c *Client) Stats() Stats {
	return Stats{
		State:            c.State().String(),
		URL:              c.cfg.URL,
		Connects:         c.connects.Load(),
		ConnectFailures:  c.connectFailures.Load(),
		MessagesSent:     c.messagesSent.Load(),
		SendErrors:       c.sendErrors.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		LastMessage:      c.lastMessage.Load().(string),
		LastConnectedAt:  c.lastConnectedAt.Load(),
	}
}

func preview(msg []byte) string {
	const max = 200
	if len(msg) <= max {
		return string(msg)
	}
	return string(msg[:max]) + "..."
}
