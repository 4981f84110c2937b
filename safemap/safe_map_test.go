package safemap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[uint32, string]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Values())
}

func TestSafeMap_Store_Load(t *testing.T) {
	m := NewSafeMap[uint32, string]()

	t.Run("store and load returns value", func(t *testing.T) {
		m.Store(1, "alice")
		v, ok := m.Load(1)
		assert.True(t, ok)
		assert.Equal(t, "alice", v)
	})

	t.Run("overwrite returns new value", func(t *testing.T) {
		m.Store(1, "bob")
		v, ok := m.Load(1)
		assert.True(t, ok)
		assert.Equal(t, "bob", v)
	})

	t.Run("load missing key returns zero value and false", func(t *testing.T) {
		v, ok := m.Load(42)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("pointer value zero is nil", func(t *testing.T) {
		pm := NewSafeMap[uint32, *int]()
		v, ok := pm.Load(1)
		assert.False(t, ok)
		assert.Nil(t, v)
	})
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[string, int]()

	t.Run("stores when absent", func(t *testing.T) {
		v, loaded := m.LoadOrStore("a", 1)
		assert.False(t, loaded)
		assert.Equal(t, 1, v)
	})

	t.Run("returns existing when present", func(t *testing.T) {
		v, loaded := m.LoadOrStore("a", 2)
		assert.True(t, loaded)
		assert.Equal(t, 1, v)
	})

	t.Run("only one concurrent caller stores", func(t *testing.T) {
		cm := NewSafeMap[string, int]()
		const n = 200
		var stored atomic.Int32
		var wg sync.WaitGroup
		wg.Add(n)
		for i := range n {
			go func(id int) {
				defer wg.Done()
				if _, loaded := cm.LoadOrStore("key", id); !loaded {
					stored.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), stored.Load())
	})
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[uint32, string]()
	m.Store(7, "seven")

	t.Run("returns and removes value", func(t *testing.T) {
		v, loaded := m.LoadAndDelete(7)
		assert.True(t, loaded)
		assert.Equal(t, "seven", v)
		assert.False(t, m.Has(7))
	})

	t.Run("second delete reports absent", func(t *testing.T) {
		v, loaded := m.LoadAndDelete(7)
		assert.False(t, loaded)
		assert.Empty(t, v)
	})

	t.Run("only one concurrent caller observes the entry", func(t *testing.T) {
		m.Store(8, "eight")
		const n = 100
		var seen atomic.Int32
		var wg sync.WaitGroup
		wg.Add(n)
		for range n {
			go func() {
				defer wg.Done()
				if _, loaded := m.LoadAndDelete(8); loaded {
					seen.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), seen.Load())
	})
}

func TestSafeMap_Delete(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	m.Delete("a")
	assert.False(t, m.Has("a"))
	assert.True(t, m.Has("b"))

	m.Delete("nonexistent")
	assert.Equal(t, 1, m.Len())
}

func TestSafeMap_Range_Values(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	t.Run("iterates all entries", func(t *testing.T) {
		seen := make(map[string]int)
		m.Range(func(k string, v int) bool {
			seen[k] = v
			return true
		})
		assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seen)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		count := 0
		m.Range(func(string, int) bool {
			count++
			return count < 2
		})
		assert.Equal(t, 2, count)
	})

	t.Run("values is a detached snapshot", func(t *testing.T) {
		values := m.Values()
		assert.ElementsMatch(t, []int{1, 2, 3}, values)

		m.Delete("a")
		assert.Len(t, values, 3)
		assert.Equal(t, 2, m.Len())
	})
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines = 50
	const opsPerGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range opsPerGoroutine {
				key := id*opsPerGoroutine + i
				m.Store(key, key*2)
				m.Load(key)
				m.Values()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*opsPerGoroutine, m.Len())

	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range opsPerGoroutine {
				m.Delete(id*opsPerGoroutine + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
