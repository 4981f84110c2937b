package tcpserver

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/go-chat/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoSession struct {
	id        uint32
	conn      net.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func newEchoSession(id uint32, conn net.Conn) TCPServerSession {
	return &echoSession{id: id, conn: conn, closed: make(chan struct{})}
}

func (e *echoSession) ID() uint32 { return e.id }

func (e *echoSession) Handle() {
	scanner := bufio.NewScanner(e.conn)
	for scanner.Scan() {
		if err := e.Send(append(scanner.Bytes(), '\n')); err != nil {
			return
		}
	}
}

func (e *echoSession) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.conn.Close()
		close(e.closed)
	})
	return err
}

func (e *echoSession) Send(data []byte) error {
	_, err := e.conn.Write(data)
	return err
}

func startEchoServer(t *testing.T) *TCPServer {
	t.Helper()
	s := NewTCPServer("echo", "127.0.0.1:0", logger.NewNopLogger(), newEchoSession)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *TCPServer) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.ListenAddr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestTCPServer_Start(t *testing.T) {
	t.Run("binds and reports address", func(t *testing.T) {
		s := startEchoServer(t)
		assert.True(t, s.Running())
		require.NotNil(t, s.ListenAddr())
		assert.NotEqual(t, "127.0.0.1:0", s.ListenAddr().String())
	})

	t.Run("second start fails", func(t *testing.T) {
		s := startEchoServer(t)
		assert.ErrorIs(t, s.Start(), ErrServerRunning)
	})

	t.Run("invalid address fails", func(t *testing.T) {
		s := NewTCPServer("echo", "256.0.0.1:bad", logger.NewNopLogger(), newEchoSession)
		assert.Error(t, s.Start())
		assert.False(t, s.Running())
		assert.Nil(t, s.ListenAddr())
	})
}

func TestTCPServer_SessionLifecycle(t *testing.T) {
	s := startEchoServer(t)

	t.Run("accepted connection is tracked and served", func(t *testing.T) {
		conn := dial(t, s)
		_, err := conn.Write([]byte("ping\n"))
		require.NoError(t, err)

		line, err := bufio.NewReader(conn).ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "ping\n", line)
		assert.Equal(t, 1, s.SessionCount())

		session, ok := s.GetSession(1)
		require.True(t, ok)
		assert.Equal(t, uint32(1), session.ID())
	})

	t.Run("closed connection is forgotten", func(t *testing.T) {
		// the previous subtest's cleanup closed its client side
		assert.Eventually(t, func() bool { return s.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
		_, ok := s.GetSession(1)
		assert.False(t, ok)
	})

	t.Run("ids increase per connection", func(t *testing.T) {
		conn := dial(t, s)
		_, err := conn.Write([]byte("x\n"))
		require.NoError(t, err)
		_, err = bufio.NewReader(conn).ReadString('\n')
		require.NoError(t, err)

		_, ok := s.GetSession(2)
		assert.True(t, ok)
	})

	t.Run("remove unknown id is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() { s.RemoveSession(999) })
	})
}

func TestTCPServer_Stop(t *testing.T) {
	s := NewTCPServer("echo", "127.0.0.1:0", logger.NewNopLogger(), newEchoSession)
	require.NoError(t, s.Start())

	conn, err := net.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return s.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	s.Stop()

	assert.False(t, s.Running())
	assert.Equal(t, 0, s.SessionCount())

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "session connection should be closed by Stop")

	assert.NotPanics(t, s.Stop, "stop on a stopped server")
}

func TestTCPServer_IdleTimeout(t *testing.T) {
	s := NewTCPServer("echo", "127.0.0.1:0", logger.NewNopLogger(), newEchoSession)
	s.IdleTimeout = 50 * time.Millisecond
	require.NoError(t, s.Start())
	defer s.Stop()

	conn, err := net.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "idle connection should be closed by the server")
	assert.Eventually(t, func() bool { return s.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
}
