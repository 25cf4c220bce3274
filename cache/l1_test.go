package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance L1 time without sleeping.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newTestL1(t *testing.T, maxSize int) (*L1Store, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Now()}
	store := NewL1Store(maxSize)
	store.now = clock.Now
	return store, clock
}

func TestL1Store_RoundTrip(t *testing.T) {
	store, _ := newTestL1(t, 10)

	store.Set("k1", newEntry("v1", time.Minute, nil))

	value, found := store.Get("k1")
	require.True(t, found)
	assert.Equal(t, "v1", value)
	assert.Equal(t, 1, store.Len())
}

func TestL1Store_GetMissing(t *testing.T) {
	store, _ := newTestL1(t, 10)

	_, found := store.Get("absent")
	assert.False(t, found)
}

func TestL1Store_LazyExpiry(t *testing.T) {
	store, clock := newTestL1(t, 10)

	store.Set("k1", newEntry("v1", time.Second, nil))
	clock.Advance(2 * time.Second)

	_, found := store.Get("k1")
	assert.False(t, found)
	// The expired entry is removed on the read, not just hidden.
	assert.Equal(t, 0, store.Len())
}

func TestL1Store_AccessTracking(t *testing.T) {
	store, _ := newTestL1(t, 10)

	entry := newEntry("v1", time.Minute, nil)
	store.Set("k1", entry)

	store.Get("k1")
	store.Get("k1")

	assert.Equal(t, uint64(2), entry.AccessCount)
}

func TestL1Store_LRUEviction(t *testing.T) {
	t.Run("never-read keys evict in insertion order", func(t *testing.T) {
		store, _ := newTestL1(t, 2)

		store.Set("a", newEntry(1, time.Minute, nil))
		store.Set("b", newEntry(2, time.Minute, nil))

		evictedKey, evicted := store.Set("c", newEntry(3, time.Minute, nil))
		require.True(t, evicted)
		assert.Equal(t, "a", evictedKey)

		_, found := store.Get("a")
		assert.False(t, found)
		_, found = store.Get("b")
		assert.True(t, found)
		_, found = store.Get("c")
		assert.True(t, found)
	})

	t.Run("a read refreshes recency", func(t *testing.T) {
		store, _ := newTestL1(t, 2)

		store.Set("a", newEntry(1, time.Minute, nil))
		store.Set("b", newEntry(2, time.Minute, nil))
		store.Get("a")

		evictedKey, evicted := store.Set("c", newEntry(3, time.Minute, nil))
		require.True(t, evicted)
		assert.Equal(t, "b", evictedKey)
	})

	t.Run("size never exceeds max", func(t *testing.T) {
		store, _ := newTestL1(t, 3)

		for _, key := range []string{"a", "b", "c", "d", "e"} {
			store.Set(key, newEntry(key, time.Minute, nil))
		}
		assert.Equal(t, 3, store.Len())
	})

	t.Run("updating an existing key does not evict", func(t *testing.T) {
		store, _ := newTestL1(t, 2)

		store.Set("a", newEntry(1, time.Minute, nil))
		store.Set("b", newEntry(2, time.Minute, nil))

		_, evicted := store.Set("a", newEntry(10, time.Minute, nil))
		assert.False(t, evicted)

		value, found := store.Get("a")
		require.True(t, found)
		assert.Equal(t, 10, value)
	})
}

func TestL1Store_EvictOneLRU(t *testing.T) {
	store, _ := newTestL1(t, 10)

	t.Run("empty store", func(t *testing.T) {
		_, evicted := store.EvictOneLRU()
		assert.False(t, evicted)
	})

	t.Run("evicts oldest access", func(t *testing.T) {
		store.Set("a", newEntry(1, time.Minute, nil))
		store.Set("b", newEntry(2, time.Minute, nil))
		store.Get("a")

		key, evicted := store.EvictOneLRU()
		require.True(t, evicted)
		assert.Equal(t, "b", key)
	})
}

func TestL1Store_SweepExpired(t *testing.T) {
	store, clock := newTestL1(t, 10)

	store.Set("short1", newEntry(1, time.Second, []string{"t"}))
	store.Set("short2", newEntry(2, time.Second, nil))
	store.Set("long", newEntry(3, time.Hour, nil))

	clock.Advance(5 * time.Second)

	removed := store.SweepExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())

	// Tag memberships of swept entries are gone too.
	assert.Empty(t, store.KeysWithTag("t"))

	_, found := store.Get("long")
	assert.True(t, found)
}

func TestL1Store_TagIndex(t *testing.T) {
	store, _ := newTestL1(t, 10)

	store.Set("p:1", newEntry("x", time.Minute, []string{"product-list", "product:1"}))
	store.Set("p:2", newEntry("y", time.Minute, []string{"product-list"}))

	keys := store.KeysWithTag("product-list")
	assert.ElementsMatch(t, []string{"p:1", "p:2"}, keys)
	assert.Equal(t, []string{"p:1"}, store.KeysWithTag("product:1"))
	assert.Empty(t, store.KeysWithTag("unknown"))

	t.Run("delete removes memberships", func(t *testing.T) {
		require.True(t, store.Delete("p:1"))
		assert.ElementsMatch(t, []string{"p:2"}, store.KeysWithTag("product-list"))
		assert.Empty(t, store.KeysWithTag("product:1"))
	})

	t.Run("overwrite replaces memberships", func(t *testing.T) {
		store.Set("p:2", newEntry("y2", time.Minute, []string{"archived"}))
		assert.Empty(t, store.KeysWithTag("product-list"))
		assert.Equal(t, []string{"p:2"}, store.KeysWithTag("archived"))
	})
}

func TestL1Store_Exists(t *testing.T) {
	store, clock := newTestL1(t, 10)

	entry := newEntry("v", time.Second, nil)
	store.Set("k", entry)

	assert.True(t, store.Exists("k"))
	// Exists is not an access.
	assert.Equal(t, uint64(0), entry.AccessCount)

	clock.Advance(2 * time.Second)
	assert.False(t, store.Exists("k"))
	assert.False(t, store.Exists("absent"))
}

func TestL1Store_Flush(t *testing.T) {
	store, _ := newTestL1(t, 10)

	store.Set("a", newEntry(1, time.Minute, []string{"t"}))
	store.Set("b", newEntry(2, time.Minute, nil))

	store.Flush()

	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.KeysWithTag("t"))
}

func TestL1Store_ConcurrentAccess(t *testing.T) {
	store, _ := newTestL1(t, 100)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + (n+j)%26))
				store.Set(key, newEntry(j, time.Minute, []string{"shared"}))
				store.Get(key)
				store.KeysWithTag("shared")
				if j%50 == 0 {
					store.SweepExpired()
				}
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.LessOrEqual(t, store.Len(), 100)
}
