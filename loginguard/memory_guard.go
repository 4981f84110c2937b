package loginguard

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryGuard is an in-process Guard. Failure counters live in go-cache and
// expire one window after the first failure that created them.
type MemoryGuard struct {
	cache       *cache.Cache
	maxFailures int
	window      time.Duration
}

// NewMemoryGuard creates an in-memory guard.
//
// Parameters:
//   - maxFailures: Failures within window after which a host is blocked; 0 disables blocking
//   - window: Lifetime of a host's failure counter
//
// Returns:
//   - A new *MemoryGuard
func NewMemoryGuard(maxFailures int, window time.Duration) *MemoryGuard {
	cleanup := window
	if cleanup <= 0 {
		cleanup = time.Minute
	}

	return &MemoryGuard{
		cache:       cache.New(window, cleanup),
		maxFailures: maxFailures,
		window:      window,
	}
}

// Blocked implements Guard.
func (g *MemoryGuard) Blocked(ctx context.Context, host string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if g.maxFailures <= 0 {
		return false, nil
	}

	return g.Failures(host) >= g.maxFailures, nil
}

// Fail implements Guard.
func (g *MemoryGuard) Fail(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		if err := g.cache.Add(host, 1, g.window); err == nil {
			return nil
		}

		// The counter can expire between Add and IncrementInt; retry then.
		if _, err := g.cache.IncrementInt(host, 1); err == nil {
			return nil
		}
	}
}

// Reset implements Guard.
func (g *MemoryGuard) Reset(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.cache.Delete(host)
	return nil
}

// Failures returns the current failure count for host.
func (g *MemoryGuard) Failures(host string) int {
	v, found := g.cache.Get(host)
	if !found {
		return 0
	}

	n, _ := v.(int)
	return n
}
