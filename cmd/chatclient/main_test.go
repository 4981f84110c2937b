package main

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-chat/chat"
	"github.com/cyberinferno/go-chat/logger"
	"github.com/cyberinferno/go-chat/tcpserver"
)

// syncBuffer guards a bytes.Buffer written by the client's read goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun(t *testing.T) {
	room := chat.NewServer(logger.NewNopLogger())
	srv := tcpserver.NewTCPServer("chat", "127.0.0.1:0", logger.NewNopLogger(), room.NewSession)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	in, inWriter := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- run(options{Addr: srv.ListenAddr().String(), Login: "alice"}, in, out)
	}()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Hello, alice!") }, 2*time.Second, 10*time.Millisecond)

	_, err := inWriter.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return room.HistoryLen() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hello"}, room.RecentHistory(1))

	require.NoError(t, inWriter.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after stdin closed")
	}
}

func TestRun_DialError(t *testing.T) {
	err := run(options{Addr: "127.0.0.1:1"}, strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}
