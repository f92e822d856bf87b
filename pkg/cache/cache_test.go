package cache

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func res(output string) Result {
	return Result{Format: "text", Output: output}
}

func TestLRUCache_Basic(t *testing.T) {
	c := New(Options{MaxEntries: 3})

	c.Set("a", res("value_a"))
	c.Set("b", res("value_b"))
	c.Set("c", res("value_c"))

	assert.Equal(t, 3, c.Len())

	got, found := c.Get("a")
	require.True(t, found)
	assert.Equal(t, "value_a", got.Output)

	got, found = c.Get("b")
	require.True(t, found)
	assert.Equal(t, "value_b", got.Output)
}

func TestLRUCache_LRU_Eviction(t *testing.T) {
	c := New(Options{MaxEntries: 3})

	c.Set("a", res("value_a"))
	c.Set("b", res("value_b"))
	c.Set("c", res("value_c"))

	// Access 'a' to make it most recently used
	c.Get("a")

	// Add new item - should evict 'b' (least recently used)
	c.Set("d", res("value_d"))

	assert.Equal(t, 3, c.Len())

	_, found := c.Get("b")
	assert.False(t, found, "b should have been evicted")

	_, found = c.Get("a")
	assert.True(t, found, "a should still be present")

	_, found = c.Get("c")
	assert.True(t, found, "c should still be present")

	_, found = c.Get("d")
	assert.True(t, found, "d should be present")
}

func TestLRUCache_Delete(t *testing.T) {
	c := New(Options{MaxEntries: 10})

	c.Set("a", res("value_a"))
	c.Set("b", res("value_b"))

	c.Delete("a")

	assert.Equal(t, 1, c.Len())

	_, found := c.Get("a")
	assert.False(t, found)

	got, found := c.Get("b")
	require.True(t, found)
	assert.Equal(t, "value_b", got.Output)
}

func TestLRUCache_Clear(t *testing.T) {
	c := New(Options{MaxEntries: 10})

	c.Set("a", res("value_a"))
	c.Set("b", res("value_b"))

	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, found := c.Get("a")
	assert.False(t, found)
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := New(Options{MaxEntries: 2})

	c.Set("a", res("old"))
	c.Set("a", res("new"))

	assert.Equal(t, 1, c.Len())

	got, found := c.Get("a")
	require.True(t, found)
	assert.Equal(t, "new", got.Output)
}

func TestLRUCache_OnEvict(t *testing.T) {
	var evicted []string
	c := New(Options{
		MaxEntries: 2,
		OnEvict: func(key string, _ Result) {
			evicted = append(evicted, key)
		},
	})

	c.Set("a", res("value_a"))
	c.Set("b", res("value_b"))
	c.Set("c", res("value_c"))

	assert.Equal(t, []string{"a"}, evicted)
}

func TestLRUCache_Stats(t *testing.T) {
	c := New(Options{MaxEntries: 10})

	c.Set("a", res("value_a"))
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Length)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLRUCache_SaveLoad(t *testing.T) {
	c := New(Options{MaxEntries: 10})
	c.Set("a", res("value_a"))
	c.Set("b", res("value_b"))
	c.Get("a") // a becomes most recently used

	var buf bytes.Buffer
	require.NoError(t, c.Save(&buf))

	restored := New(Options{MaxEntries: 2})
	require.NoError(t, restored.Load(&buf))

	assert.Equal(t, 2, restored.Len())
	got, found := restored.Get("a")
	require.True(t, found)
	assert.Equal(t, "value_a", got.Output)

	// Recency order survives the round-trip: adding one entry evicts 'b'.
	restored.Set("c", res("value_c"))
	_, found = restored.Get("b")
	assert.False(t, found, "b was least recently used and should be evicted")
}

func TestPersistAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.msgpack")

	c := New(Options{MaxEntries: 10})
	c.Set("a", res("value_a"))
	require.NoError(t, PersistToFile(c, path))

	restored := New(Options{MaxEntries: 10})
	require.NoError(t, LoadFromFile(restored, path))
	assert.Equal(t, 1, restored.Len())
}

func TestLoadFromFile_Missing(t *testing.T) {
	c := New(Options{MaxEntries: 10})
	err := LoadFromFile(c, filepath.Join(t.TempDir(), "no-such-file"))
	assert.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestKey_DistinctInputs(t *testing.T) {
	k1 := Key([]byte("cfg-a"), "text")
	k2 := Key([]byte("cfg-a"), "json")
	k3 := Key([]byte("cfg-b"), "text")

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Equal(t, k1, Key([]byte("cfg-a"), "text"))
}
