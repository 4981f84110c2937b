// Package chatclient provides an event-driven client for the line-oriented
// chat protocol. Callers register handlers for connection state changes,
// received lines and errors, then Connect and Login.
package chatclient

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/go-chat/chat"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client is closed")

	// ErrNotConnected is returned by SendLine without a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("already connected or connecting")

	// ErrMultiline is returned by SendLine for text containing a line break.
	ErrMultiline = errors.New("text must be a single line")
)

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial in progress
	Connected                           // Connection established
	Closed                              // Close was called; the client is unusable
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted when the connection state changes.
type StateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // non-nil if the change was caused by an error
}

// LineEvent carries one line received from the server, without its terminator.
type LineEvent struct {
	Line      string
	Timestamp time.Time
}

// ErrorEvent is emitted when a read or write fails.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// StateHandler is called on connection state changes.
type StateHandler func(event StateEvent)

// LineHandler is called for every received line, in arrival order, from the
// client's read goroutine. It must not block for long or call Close.
type LineHandler func(event LineEvent)

// ErrorHandler is called when a read or write fails.
type ErrorHandler func(event ErrorEvent)

// Config holds client settings.
type Config struct {
	// Address is the "host:port" of the chat server.
	Address string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds each write; 0 means no deadline.
	WriteTimeout time.Duration
	// MaxLine is the longest line accepted from the server.
	MaxLine int
}

// DefaultConfig returns a Config for address with a 10s dial timeout, a 10s
// write timeout and a 64KiB line limit.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxLine:           64 * 1024,
	}
}

// Client is a chat connection. It is safe for concurrent use.
type Client struct {
	config Config

	mu      sync.RWMutex
	conn    net.Conn
	state   ConnectionState
	onState StateHandler
	onLine  LineHandler
	onError ErrorHandler
	done    chan struct{}

	writeMu sync.Mutex
}

// New creates a disconnected client.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Client; call Close when done
func New(config Config) *Client {
	if config.MaxLine <= 0 {
		config.MaxLine = DefaultConfig(config.Address).MaxLine
	}

	return &Client{config: config, state: Disconnected}
}

// OnState registers the state handler, replacing any previous one.
func (c *Client) OnState(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnLine registers the line handler, replacing any previous one.
func (c *Client) OnLine(handler LineHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = handler
}

// OnError registers the error handler, replacing any previous one.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done returns a channel closed when the current connection's read loop
// ends, or nil before the first Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Connect dials the server and starts reading lines.
//
// Returns:
//   - ErrClosed, ErrAlreadyConnected, or the dial error
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connected, Connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return fmt.Errorf("connect %s: %w", c.config.Address, err)
	}

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = Connected
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()
	c.emitState(Connected, nil)

	go c.readLoop(conn, done)
	return nil
}

// Login sends the login command for name.
func (c *Client) Login(name string) error {
	return c.SendLine(chat.LoginPrefix + name)
}

// SendLine writes text followed by the line terminator.
//
// Parameters:
//   - text: A single line without terminator
//
// Returns:
//   - ErrMultiline, ErrNotConnected, or the write error
func (c *Client) SendLine(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return ErrMultiline
	}

	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	if _, err := conn.Write([]byte(text + chat.LineTerminator)); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// Disconnect closes the current connection; Connect may be called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close()
}

// Close closes the connection and makes the client unusable. It is
// idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	c.state = Closed
	conn, done := c.conn, c.done
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	if done != nil {
		<-done
	}

	c.emitState(Closed, nil)
	return err
}

func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), c.config.MaxLine)
	for scanner.Scan() {
		c.emitLine(scanner.Text())
	}

	err := scanner.Err()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closing := c.state == Closed
	if !closing {
		c.state = Disconnected
	}
	c.mu.Unlock()

	_ = conn.Close()
	if closing {
		return
	}

	if err != nil && !errors.Is(err, net.ErrClosed) {
		c.emitError(err)
	} else {
		err = nil
	}

	c.emitState(Disconnected, err)
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	if c.state != Closed {
		c.state = state
	}
	c.mu.Unlock()

	c.emitState(state, err)
}

func (c *Client) emitState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()

	if handler != nil {
		handler(StateEvent{State: state, Address: c.config.Address, Timestamp: time.Now(), Error: err})
	}
}

func (c *Client) emitLine(line string) {
	c.mu.RLock()
	handler := c.onLine
	c.mu.RUnlock()

	if handler != nil {
		handler(LineEvent{Line: line, Timestamp: time.Now()})
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}
