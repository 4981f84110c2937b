// Package tcpserver accepts TCP connections and runs one session per
// connection on its own goroutine. The server tracks every live connection,
// whether or not the session on it has identified itself.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-chat/idgenerator"
	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/safemap"
)

// ErrServerRunning is returned by Start when the server is already running.
var ErrServerRunning = errors.New("server already running")

// NewSessionFunc creates a TCPServerSession for an accepted connection. It
// receives the ID assigned to the connection and the connection itself.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// TCPServer accepts connections on Addr and delegates each one to a session
// created by NewSession. Live sessions are kept in Sessions until their
// Handle returns.
type TCPServer struct {
	Logger      logger.Logger
	Name        string
	Addr        string
	IdleTimeout time.Duration
	Sessions    *safemap.SafeMap[uint32, TCPServerSession]
	NewSession  NewSessionFunc

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
	ids      *idgenerator.IdGenerator
	wg       sync.WaitGroup
}

// NewTCPServer returns a stopped server with an empty session table.
//
// Parameters:
//   - name: Name used in log entries
//   - addr: The "host:port" to listen on; port 0 picks a free port
//   - log: Logger for server events
//   - newSession: Factory invoked for every accepted connection
//
// Returns:
//   - A new *TCPServer; call Start to begin accepting
func NewTCPServer(name string, addr string, log logger.Logger, newSession NewSessionFunc) *TCPServer {
	return &TCPServer{
		Logger:     log.With(logger.Field{Key: "server", Value: name}),
		Name:       name,
		Addr:       addr,
		Sessions:   safemap.NewSafeMap[uint32, TCPServerSession](),
		NewSession: newSession,
		ids:        idgenerator.NewIdGenerator(0),
	}
}

// Start binds to Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - ErrServerRunning if the server is already running
//   - An error if listening on Addr fails
func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("%s: %w", s.Name, ErrServerRunning)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop(ln)

	return nil
}

// ListenAddr returns the bound address, or nil when the server is not running.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Running reports whether the accept loop is active.
func (s *TCPServer) Running() bool {
	return s.running.Load()
}

// Stop closes the listener and every tracked session, then waits for the
// accept loop and all session goroutines to return. Safe to call when the
// server is not running.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}

	s.running.Store(false)
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	_ = ln.Close()

	s.Sessions.Range(func(_ uint32, session TCPServerSession) bool {
		_ = session.Close()
		return true
	})

	s.wg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// RemoveSession drops the session with the given id from the session table.
// Removing an unknown id is a no-op.
//
// Parameters:
//   - id: The session ID to remove
func (s *TCPServer) RemoveSession(id uint32) {
	s.Sessions.Delete(id)
}

// GetSession returns the live session for the given id, if present.
//
// Parameters:
//   - id: The session ID to look up
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (s *TCPServer) GetSession(id uint32) (TCPServerSession, bool) {
	return s.Sessions.Load(id)
}

// SessionCount returns the number of live connections.
func (s *TCPServer) SessionCount() int {
	return s.Sessions.Len()
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err})
			continue
		}

		if s.IdleTimeout > 0 {
			conn = &idleConn{Conn: conn, timeout: s.IdleTimeout}
		}

		id := s.ids.Next(s.Sessions.Has)
		session := s.NewSession(id, conn)
		s.Sessions.Store(id, session)

		// Stop may have ranged over Sessions before this store.
		if !s.running.Load() {
			s.RemoveSession(id)
			_ = session.Close()
			return
		}

		s.wg.Add(1)
		go s.serve(id, session)
	}
}

func (s *TCPServer) serve(id uint32, session TCPServerSession) {
	defer s.wg.Done()
	defer func() {
		s.RemoveSession(id)
		_ = session.Close()
	}()

	session.Handle()
}

// idleConn refreshes the read deadline before every Read so that a peer
// silent for longer than timeout is disconnected.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}

	return c.Conn.Read(p)
}
