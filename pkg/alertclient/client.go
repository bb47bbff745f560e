// Package alertclient implements the device side of the duplex alert
// channel: connect, register an identity, receive alerts into a bounded
// newest-first buffer, and raise new ones through a local notifier hook.
//
// The session reconnects forever with jittered exponential backoff until
// Disconnect is called; Disconnect is terminal and idempotent.
package alertclient

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"alertd/pkg/alert"
	"alertd/pkg/logx"

	"github.com/gorilla/websocket"
)

// State of the session. Transitions:
// Disconnected -> Connecting -> Connected -> (transport loss) -> Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// DefaultBufferSize matches the server-side alert window.
const DefaultBufferSize = 50

// Notifier raises a newly received alert locally (system notification,
// UI update, ...). Called from the session goroutine; keep it fast.
type Notifier interface {
	Notify(a alert.Alert)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(a alert.Alert)

func (f NotifierFunc) Notify(a alert.Alert) { f(a) }

// Config configures a session. URL and IdentityID are required.
type Config struct {
	// URL of the broker websocket endpoint, e.g. "wss://host/ws".
	URL        string
	IdentityID string
	// PushToken is registered alongside the identity when non-empty.
	PushToken string

	// BufferSize caps the local alert buffer (default 50).
	BufferSize int

	// Reconnect backoff (defaults: 1s base, 30s cap).
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

type Client struct {
	cfg      Config
	log      logx.Logger
	notifier Notifier
	onError  func(error)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	pushToken string
	buffer    []alert.Alert // newest-first
	started   bool
	closed    bool

	// wmu serializes socket writes (register/updatePushToken).
	wmu sync.Mutex

	wg sync.WaitGroup
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger attaches a logger; the default is silent.
func WithLogger(log logx.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithErrorHandler receives transport errors and connect_error payloads.
// All of them are transient: the session keeps its reconnect policy.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Client) { c.onError = fn }
}

func New(cfg Config, n Notifier, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("alertclient: URL is required")
	}
	if strings.TrimSpace(cfg.IdentityID) == "" {
		return nil, errors.New("alertclient: IdentityID is required")
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:       cfg,
		notifier:  n,
		ctx:       ctx,
		cancel:    cancel,
		pushToken: cfg.PushToken,
		log:       logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Connect starts the session. Idempotent; returns an error only after
// Disconnect.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("alertclient: session is terminated")
	}
	if c.started {
		return nil
	}
	c.started = true
	c.wg.Add(1)
	go c.run()
	return nil
}

// Disconnect terminates the session: closes the socket, cancels any pending
// reconnect, and prevents future connects. Safe to call concurrently and
// repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Alerts returns a newest-first snapshot of the local buffer.
func (c *Client) Alerts() []alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Alert(nil), c.buffer...)
}

// UpdatePushToken stores the token and, when connected, pushes it to the
// broker immediately. The token is re-registered on every reconnect either
// way.
func (c *Client) UpdatePushToken(token string) error {
	c.mu.Lock()
	c.pushToken = token
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeEnvelope(conn, eventUpdatePushToken, pushTokenPayload{
		IdentityID: c.cfg.IdentityID,
		PushToken:  token,
	})
}

func (c *Client) run() {
	defer c.wg.Done()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := c.cfg.ReconnectBase

	for {
		if c.ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dial()
		if err != nil {
			c.setState(StateDisconnected)
			c.reportError(err)
			if !c.sleep(jitter(rng, backoff)) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.ReconnectMax)
			continue
		}

		if err := c.register(conn); err != nil {
			_ = conn.Close()
			c.setState(StateDisconnected)
			c.reportError(err)
			if !c.sleep(jitter(rng, backoff)) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.ReconnectMax)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()
		c.log.Info("connected", logx.String("identity", c.cfg.IdentityID))
		backoff = c.cfg.ReconnectBase

		c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		stopped := c.closed
		c.state = StateDisconnected
		c.mu.Unlock()
		if stopped {
			return
		}
		c.log.Debug("connection lost; reconnecting")
		if !c.sleep(jitter(rng, backoff)) {
			return
		}
		backoff = nextBackoff(backoff, c.cfg.ReconnectMax)
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(c.ctx, c.cfg.URL, nil)
	return conn, err
}

func (c *Client) register(conn *websocket.Conn) error {
	c.mu.Lock()
	token := c.pushToken
	c.mu.Unlock()
	return c.writeEnvelope(conn, eventRegister, registerPayload{
		IdentityID: c.cfg.IdentityID,
		PushToken:  token,
	})
}

func (c *Client) writeEnvelope(conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteJSON(envelope{Event: event, Data: data})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.reportError(err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.log.Debug("malformed frame dropped", logx.Err(err))
			continue
		}
		switch env.Event {
		case eventAlert:
			var a alert.Alert
			if err := json.Unmarshal(env.Data, &a); err != nil {
				c.log.Debug("malformed alert dropped", logx.Err(err))
				continue
			}
			c.receive(a)
		case eventConnectError:
			var p errorPayload
			_ = json.Unmarshal(env.Data, &p)
			if p.Error == "" {
				p.Error = "unspecified connect error"
			}
			c.reportError(errors.New(p.Error))
		default:
			// Unknown server events are ignored for forward compatibility.
		}
	}
}

// receive inserts a newly delivered alert: dedup by id against the buffer
// (redelivery after reconnect is expected), insert newest-first, evict past
// capacity, then raise the local notification.
func (c *Client) receive(a alert.Alert) {
	c.mu.Lock()
	for _, have := range c.buffer {
		if have.ID == a.ID {
			c.mu.Unlock()
			return
		}
	}
	c.buffer = append([]alert.Alert{a}, c.buffer...)
	if len(c.buffer) > c.cfg.BufferSize {
		c.buffer = c.buffer[:c.cfg.BufferSize]
	}
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.Notify(a)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if !c.closed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	c.log.Debug("session error", logx.Err(err))
	if c.onError != nil {
		c.onError(err)
	}
}

// sleep waits d or until the session is terminated; reports false on
// termination.
func (c *Client) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func jitter(rng *rand.Rand, d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// 0.7..1.3
	return time.Duration(float64(d) * (0.7 + rng.Float64()*0.6))
}

func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}
