package tcpserver

// TCPServerSession is implemented by each connection session. The server
// creates a session per connection and runs Handle on its own goroutine;
// once Handle returns the server calls Close and forgets the session.
type TCPServerSession interface {
	// ID returns the identifier assigned by the server.
	ID() uint32

	// Handle runs the session's read loop until the connection is closed or
	// the session decides to exit.
	Handle()

	// Close closes the connection. It must be safe to call multiple times
	// and from several goroutines.
	Close() error

	// Send writes data to the connection. It must be safe for concurrent use.
	Send(data []byte) error
}
