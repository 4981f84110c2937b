// Package loginguard tracks rejected login attempts per remote host so that
// a host repeatedly claiming taken names can be turned away early.
package loginguard

import (
	"context"
	"errors"
	"net"
)

// ErrBlocked is reported to callers that want an error value for a host
// that has exceeded its allowed failures.
var ErrBlocked = errors.New("too many failed login attempts")

// Guard counts failures per host within a sliding window. Implementations
// must be safe for concurrent use.
type Guard interface {
	// Blocked reports whether host has reached the failure limit.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - host: The remote host, without port
	//
	// Returns:
	//   - true if further login attempts from host should be refused
	//   - An error if the backing store could not be queried
	Blocked(ctx context.Context, host string) (bool, error)

	// Fail records one failed attempt for host.
	Fail(ctx context.Context, host string) error

	// Reset forgets all failures recorded for host.
	Reset(ctx context.Context, host string) error
}

// HostOf returns the host part of a remote address, or the whole address
// string if it has no port.
//
// Parameters:
//   - addr: A remote address such as conn.RemoteAddr()
//
// Returns:
//   - The host, or "" for a nil address
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return host
}

type nopGuard struct{}

// NewNopGuard returns a Guard that never blocks.
func NewNopGuard() Guard {
	return nopGuard{}
}

func (nopGuard) Blocked(context.Context, string) (bool, error) { return false, nil }
func (nopGuard) Fail(context.Context, string) error            { return nil }
func (nopGuard) Reset(context.Context, string) error           { return nil }
