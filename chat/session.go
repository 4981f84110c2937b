package chat

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/shazow/rateio"

	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/loginguard"
)

var errLoginRefused = errors.New("login refused")

// Session is one client connection. It starts unauthenticated and becomes
// authenticated once its login line claims a free name; after that every
// line it sends is stored in the history and broadcast to the others.
type Session struct {
	id      uint32
	server  *Server
	conn    net.Conn
	log     logger.Logger
	limiter rateio.Limiter

	login atomic.Pointer[string]

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// ID implements tcpserver.TCPServerSession.
func (s *Session) ID() uint32 {
	return s.id
}

// Login returns the claimed name, or "" before authentication.
func (s *Session) Login() string {
	if login := s.login.Load(); login != nil {
		return *login
	}

	return ""
}

// Authenticated reports whether the session holds a login.
func (s *Session) Authenticated() bool {
	return s.login.Load() != nil
}

// RemoteAddr returns the peer address of the connection.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Handle reads lines until the peer disconnects, a protocol error occurs or
// the session is closed. On return the session's login is released and the
// connection is closed.
func (s *Session) Handle() {
	s.log.Info("connection accepted")
	defer func() {
		s.server.Unregister(s)
		_ = s.Close()
		s.log.Info("connection closed", logger.Field{Key: "login", Value: s.Login()})
	}()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, min(s.server.maxLineLength, 4096)), s.server.maxLineLength)

	for scanner.Scan() {
		if err := s.handleLine(scanner.Text()); err != nil {
			return
		}
	}

	if err := scanner.Err(); err != nil && !s.closed.Load() {
		if errors.Is(err, bufio.ErrTooLong) {
			s.log.Warn("line too long", logger.Field{Key: "max", Value: s.server.maxLineLength})
			return
		}

		s.log.Debug("read ended", logger.Field{Key: "error", Value: err})
	}
}

func (s *Session) handleLine(line string) error {
	if !utf8.ValidString(line) {
		s.log.Warn("closing session on undecodable input", logger.Field{Key: "error", Value: ErrInvalidEncoding})
		return ErrInvalidEncoding
	}

	if !s.Authenticated() {
		return s.handleLogin(line)
	}

	return s.handleMessage(line)
}

func (s *Session) handleLogin(line string) error {
	name, ok := ParseLogin(line)
	if !ok {
		s.log.Debug("ignoring line before login", logger.Field{Key: "line", Value: line})
		return nil
	}

	host := loginguard.HostOf(s.conn.RemoteAddr())
	ctx, cancel := context.WithTimeout(context.Background(), s.server.guardTimeout)
	defer cancel()

	blocked, err := s.server.guard.Blocked(ctx, host)
	if err != nil {
		s.log.Error("login guard unavailable", logger.Field{Key: "error", Value: err})
	}

	if blocked {
		s.log.Warn("login refused", logger.Field{Key: "login", Value: name}, logger.Field{Key: "error", Value: loginguard.ErrBlocked})
		_ = s.Send([]byte(notice(blockedNotice)))
		return errLoginRefused
	}

	if err := s.server.Register(s, name); err != nil {
		s.log.Warn("login rejected", logger.Field{Key: "login", Value: name}, logger.Field{Key: "error", Value: err})
		if err := s.server.guard.Fail(ctx, host); err != nil {
			s.log.Error("login guard unavailable", logger.Field{Key: "error", Value: err})
		}

		_ = s.Send([]byte(rejection(name)))
		return err
	}

	if err := s.server.guard.Reset(ctx, host); err != nil {
		s.log.Error("login guard unavailable", logger.Field{Key: "error", Value: err})
	}

	s.log.Info("login accepted", logger.Field{Key: "login", Value: name})
	if err := s.Send([]byte(greeting(name))); err != nil {
		return err
	}

	if recent := s.server.RecentHistory(s.server.historyReplay); len(recent) > 0 {
		return s.sendHistory(recent)
	}

	return nil
}

func (s *Session) handleMessage(line string) error {
	if s.limiter != nil {
		if err := s.limiter.Count(1); err != nil {
			return s.Send([]byte(notice(rateLimitedNotice)))
		}
	}

	msg := []byte(FormatBroadcast(s.Login(), line))
	for target := range s.server.Post(s, line) {
		// A failed write closes the target; its own Handle cleans up.
		_ = target.Send(msg)
	}

	return nil
}

// sendHistory writes the replay block to this session only.
func (s *Session) sendHistory(entries []string) error {
	return s.Send([]byte(FormatHistory(entries)))
}

// Send writes data to the client within the server's write timeout. A
// failed write closes the session.
//
// Parameters:
//   - data: The bytes to write
//
// Returns:
//   - ErrSessionClosed if the session was closed before the call
//   - The write error otherwise
func (s *Session) Send(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.server.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout)); err != nil {
			_ = s.Close()
			return err
		}
	}

	if _, err := s.conn.Write(data); err != nil {
		s.log.Debug("write failed, closing session", logger.Field{Key: "error", Value: err})
		_ = s.Close()
		return err
	}

	return nil
}

// Close closes the connection. It is safe to call more than once and from
// several goroutines.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})

	return err
}
