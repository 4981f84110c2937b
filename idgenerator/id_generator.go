package idgenerator

import "sync/atomic"

// IdGenerator hands out non-zero uint32 connection IDs in a concurrency-safe
// manner. After the counter wraps, IDs still held by live connections are
// skipped.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Next returns
// startValue+1, or 1 when that would be zero.
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Next returns the next ID that is neither zero nor reported as in use.
// inUse may be nil. If every ID is in use Next does not return.
//
// Parameters:
//   - inUse: Reports whether an ID is still held, e.g. a session table lookup
//
// Returns:
//   - The next free uint32 ID
func (g *IdGenerator) Next(inUse func(uint32) bool) uint32 {
	for {
		id := g.id.Add(1)
		if id == 0 {
			continue
		}

		if inUse == nil || !inUse(id) {
			return id
		}
	}
}
