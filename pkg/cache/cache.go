// Package cache memoizes structuring results keyed by input digest, with an
// in-memory LRU bounded by entry count and msgpack persistence on disk.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrKeyNotFound is returned when a key is not found in the cache.
var ErrKeyNotFound = errors.New("key not found")

// Result is one memoized structuring run.
type Result struct {
	// Format is the rendering the output was produced in ("text" or "json").
	Format string `msgpack:"format"`
	// Output is the rendered structured tree.
	Output string `msgpack:"output"`
	// CreatedAt records when the result was first cached.
	CreatedAt time.Time `msgpack:"created_at"`
}

// Key derives a cache key from raw input bytes and the output format.
func Key(input []byte, format string) string {
	h := sha256.New()
	h.Write(input)
	h.Write([]byte{0})
	h.Write([]byte(format))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is a cache entry with access metadata.
type Entry struct {
	Key        string    `msgpack:"key"`
	Result     Result    `msgpack:"result"`
	AccessedAt time.Time `msgpack:"accessed_at"`
}

// LRUCache is an in-memory LRU cache with optional disk persistence. The
// zero value is not usable; construct with New.
type LRUCache struct {
	mu         sync.Mutex
	items      map[string]*listItem
	lru        *list // most recent at front
	maxEntries int
	hits       int64
	misses     int64
	onEvict    func(key string, res Result)
}

type listItem struct {
	Entry
	prev *listItem
	next *listItem
}

// list is a hand-rolled doubly-linked list so items can unlink in O(1).
type list struct {
	head *listItem
	tail *listItem
	len  int
}

func (l *list) pushFront(item *listItem) {
	item.next = l.head
	item.prev = nil
	if l.head != nil {
		l.head.prev = item
	}
	l.head = item
	if l.tail == nil {
		l.tail = item
	}
	l.len++
}

func (l *list) moveToFront(item *listItem) {
	if item == l.head {
		return
	}
	l.unlink(item)
	l.pushFront(item)
}

func (l *list) unlink(item *listItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		l.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		l.tail = item.prev
	}
	item.prev = nil
	item.next = nil
	l.len--
}

func (l *list) removeBack() *listItem {
	item := l.tail
	if item == nil {
		return nil
	}
	l.unlink(item)
	return item
}

// Options configures the LRU cache.
type Options struct {
	// MaxEntries bounds the cache; 0 means unlimited.
	MaxEntries int

	// OnEvict is called for each evicted entry.
	OnEvict func(key string, res Result)
}

// New creates an LRU cache.
func New(opts Options) *LRUCache {
	return &LRUCache{
		items:      make(map[string]*listItem),
		lru:        &list{},
		maxEntries: opts.MaxEntries,
		onEvict:    opts.OnEvict,
	}
}

// Get retrieves a result and marks it most recently used.
func (c *LRUCache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		c.misses++
		return Result{}, false
	}
	c.hits++
	item.AccessedAt = time.Now()
	c.lru.moveToFront(item)
	return item.Result, true
}

// Set stores a result, evicting the least recently used entries when the
// cache is over capacity.
func (c *LRUCache) Set(key string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		item.Result = res
		item.AccessedAt = time.Now()
		c.lru.moveToFront(item)
		return
	}

	item := &listItem{
		Entry: Entry{
			Key:        key,
			Result:     res,
			AccessedAt: time.Now(),
		},
	}
	c.items[key] = item
	c.lru.pushFront(item)
	c.evictIfNeeded()
}

// Delete removes a key from the cache.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		return
	}
	c.lru.unlink(item)
	delete(c.items, key)
	if c.onEvict != nil {
		c.onEvict(key, item.Result)
	}
}

// Clear removes all entries.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*listItem)
	c.lru = &list{}
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats reports hit/miss counters since construction.
type Stats struct {
	Length int   `msgpack:"length"`
	Hits   int64 `msgpack:"hits"`
	Misses int64 `msgpack:"misses"`
}

// Stats returns a snapshot of the cache counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Length: len(c.items), Hits: c.hits, Misses: c.misses}
}

func (c *LRUCache) evictIfNeeded() {
	for c.maxEntries > 0 && c.lru.len > c.maxEntries {
		item := c.lru.removeBack()
		if item == nil {
			break
		}
		delete(c.items, item.Key)
		if c.onEvict != nil {
			c.onEvict(item.Key, item.Result)
		}
	}
}

// Save persists the cache to w as msgpack, most recently used last so Load
// restores recency order by pushing entries front in sequence.
func (c *LRUCache) Save(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, c.lru.len)
	for item := c.lru.tail; item != nil; item = item.prev {
		entries = append(entries, item.Entry)
	}
	return msgpack.NewEncoder(w).Encode(entries)
}

// Load restores the cache from msgpack written by Save, replacing any
// current contents.
func (c *LRUCache) Load(r io.Reader) error {
	var entries []Entry
	if err := msgpack.NewDecoder(r).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*listItem)
	c.lru = &list{}
	for _, entry := range entries {
		item := &listItem{Entry: entry}
		c.items[entry.Key] = item
		c.lru.pushFront(item)
	}
	return nil
}

// PersistToFile saves the cache to path, creating parent directories.
func PersistToFile(c *LRUCache, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer f.Close()
	return c.Save(f)
}

// LoadFromFile loads the cache from path. A missing file is not an error.
func LoadFromFile(c *LRUCache, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()
	return c.Load(f)
}
