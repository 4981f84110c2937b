// Package chat implements a line-oriented chat room: a registry of logged-in
// sessions with unique names, an append-only message history, and the
// per-connection protocol that ties them together.
package chat

import (
	"errors"
	"iter"
	"net"
	"sync"
	"time"

	"github.com/shazow/rateio"

	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/loginguard"
	"github.com/cyberinferno/go-chat/tcpserver"
)

var (
	// ErrNameTaken is returned by Register when another session holds the login.
	ErrNameTaken = errors.New("login is already taken")

	// ErrInvalidLogin is returned by Register for a blank login.
	ErrInvalidLogin = errors.New("login must not be empty")

	// ErrAlreadyAuthenticated is returned by Register for a session that
	// already holds a login.
	ErrAlreadyAuthenticated = errors.New("session is already authenticated")

	// ErrInvalidEncoding ends a session that sent a line that is not UTF-8.
	ErrInvalidEncoding = errors.New("line is not valid UTF-8")

	// ErrSessionClosed is returned by Send after the session was closed.
	ErrSessionClosed = errors.New("session is closed")
)

const (
	defaultHistoryReplay = 10
	defaultWriteTimeout  = 5 * time.Second
	defaultMaxLineLength = 4096
	defaultGuardTimeout  = 2 * time.Second
)

// Server holds the state shared by all sessions: the name registry and the
// message history. A single mutex guards both so that appending a message
// and choosing its recipients happen in one step.
type Server struct {
	log logger.Logger

	historyReplay int
	writeTimeout  time.Duration
	maxLineLength int
	rateMessages  int
	ratePeriod    time.Duration
	guard         loginguard.Guard
	guardTimeout  time.Duration

	mu      sync.Mutex
	names   map[string]*Session
	history []string
}

// Option configures a Server.
type Option func(*Server)

// WithHistoryReplay sets how many recent messages a new login receives.
// Zero disables the replay.
func WithHistoryReplay(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.historyReplay = n
		}
	}
}

// WithWriteTimeout bounds every write to a client. Zero means no deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.writeTimeout = d
		}
	}
}

// WithMaxLineLength sets the longest accepted input line in bytes. Longer
// lines end the session.
func WithMaxLineLength(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLineLength = n
		}
	}
}

// WithRateLimit allows each logged-in session at most n messages per period.
// Zero n disables limiting.
func WithRateLimit(n int, period time.Duration) Option {
	return func(s *Server) {
		if n >= 0 && period > 0 {
			s.rateMessages = n
			s.ratePeriod = period
		}
	}
}

// WithLoginGuard installs a guard that refuses logins from hosts with too
// many rejected attempts.
func WithLoginGuard(g loginguard.Guard) Option {
	return func(s *Server) {
		if g != nil {
			s.guard = g
		}
	}
}

// NewServer creates an empty chat server.
//
// Parameters:
//   - log: Logger for registry and session events
//   - opts: Optional settings
//
// Returns:
//   - A new *Server with no sessions and no history
func NewServer(log logger.Logger, opts ...Option) *Server {
	s := &Server{
		log:           log,
		historyReplay: defaultHistoryReplay,
		writeTimeout:  defaultWriteTimeout,
		maxLineLength: defaultMaxLineLength,
		guard:         loginguard.NewNopGuard(),
		guardTimeout:  defaultGuardTimeout,
		names:         make(map[string]*Session),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewSession wraps an accepted connection in an unauthenticated session. It
// matches tcpserver.NewSessionFunc.
func (s *Server) NewSession(id uint32, conn net.Conn) tcpserver.TCPServerSession {
	return s.newSession(id, conn)
}

func (s *Server) newSession(id uint32, conn net.Conn) *Session {
	session := &Session{
		id:     id,
		server: s,
		conn:   conn,
		log: s.log.With(
			logger.Field{Key: "session_id", Value: id},
			logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()},
		),
	}

	if s.rateMessages > 0 {
		session.limiter = rateio.NewSimpleLimiter(s.rateMessages, s.ratePeriod)
	}

	return session
}

// Register claims login for session. The uniqueness check and the insert
// are one critical section, so of several sessions racing for the same
// name exactly one succeeds. On success the session is authenticated.
//
// Parameters:
//   - session: The unauthenticated session
//   - login: The requested name
//
// Returns:
//   - ErrNameTaken if another session holds login
//   - ErrInvalidLogin or ErrAlreadyAuthenticated for misuse
func (s *Server) Register(session *Session, login string) error {
	if login == "" {
		return ErrInvalidLogin
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session.Authenticated() {
		return ErrAlreadyAuthenticated
	}

	if _, taken := s.names[login]; taken {
		return ErrNameTaken
	}

	s.names[login] = session
	session.login.Store(&login)
	return nil
}

// Unregister releases the session's login so it can be claimed again. It is
// a no-op for unauthenticated or already removed sessions.
func (s *Server) Unregister(session *Session) {
	login := session.Login()
	if login == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.names[login] == session {
		delete(s.names, login)
	}
}

// AppendHistory adds line to the end of the history.
func (s *Server) AppendHistory(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, line)
}

// BroadcastTargets returns every registered session except excluding. The
// set is captured when BroadcastTargets is called; sessions that leave
// afterwards are still yielded and sends to them simply fail.
func (s *Server) BroadcastTargets(excluding *Session) iter.Seq[*Session] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.targetsLocked(excluding)
}

// Post appends line to the history and returns the recipients of its
// broadcast, both under one lock: a session that logs in after Post sees
// line in its history replay, one that logged in before is a recipient.
func (s *Server) Post(sender *Session, line string) iter.Seq[*Session] {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, line)
	return s.targetsLocked(sender)
}

func (s *Server) targetsLocked(excluding *Session) iter.Seq[*Session] {
	targets := make([]*Session, 0, len(s.names))
	for _, session := range s.names {
		if session != excluding {
			targets = append(targets, session)
		}
	}

	return func(yield func(*Session) bool) {
		for _, target := range targets {
			if !yield(target) {
				return
			}
		}
	}
}

// RecentHistory returns the last min(n, len(history)) messages, oldest first.
func (s *Server) RecentHistory(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return []string{}
	}

	if n > len(s.history) {
		n = len(s.history)
	}

	recent := make([]string, n)
	copy(recent, s.history[len(s.history)-n:])
	return recent
}

// Lookup returns the session holding login.
func (s *Server) Lookup(login string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.names[login]
	return session, ok
}

// Len returns the number of logged-in sessions.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.names)
}

// HistoryLen returns the number of stored messages.
func (s *Server) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.history)
}
