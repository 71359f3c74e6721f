// Package segcache implements the content-addressed on-disk cache for
// rendered segment audio: two-level sharded directories keyed by cache
// key, atomic writes, JSON metadata sidecars, and size-bounded LRU
// eviction tracked by an in-memory index.
package segcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/bytedance/sonic"
)

// Meta is the JSON sidecar written alongside each cached audio file.
type Meta struct {
	CacheKey    string `json:"cache_key"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
	CreatedAt   int64  `json:"created_at"`
	AccessedAt  int64  `json:"accessed_at"`
}

type indexEntry struct {
	path      string
	metaPath  string
	sizeBytes int64
}

// Cache is a size-bounded, content-addressed store. Eviction order is
// LRU by last access, tracked in the in-memory index. The index starts
// empty in New and is filled only by Put, so audio files left on disk by
// an earlier process are not served, counted toward maxBytes, or evicted.
type Cache struct {
	dir         string
	maxBytes    int64
	mu          sync.Mutex
	index       *lru.Cache[string, indexEntry]
	currentSize int64
}

func New(dir string, maxBytes int64, maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	c := &Cache{dir: dir, maxBytes: maxBytes}
	idx, err := lru.NewWithEvict[string, indexEntry](maxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("segcache: new lru: %w", err)
	}
	c.index = idx
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segcache: mkdir: %w", err)
	}
	return c, nil
}

func (c *Cache) onEvict(key string, e indexEntry) {
	_ = os.Remove(e.path)
	_ = os.Remove(e.metaPath)
	c.currentSize -= e.sizeBytes
}

func (c *Cache) shardPath(key string) (dir, path, metaPath string) {
	if len(key) < 4 {
		key = key + "0000"
	}
	dir = filepath.Join(c.dir, key[0:2], key[2:4])
	path = filepath.Join(dir, key+".audio")
	metaPath = filepath.Join(dir, key+".meta.json")
	return
}

// Has reports whether key is present without affecting recency.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Contains(key)
}

// Get returns the cached bytes and metadata for key, bumping its
// recency, or ok=false if absent.
func (c *Cache) Get(key string) (data []byte, meta Meta, ok bool) {
	c.mu.Lock()
	e, found := c.index.Get(key)
	c.mu.Unlock()
	if !found {
		return nil, Meta{}, false
	}
	raw, err := os.ReadFile(e.path)
	if err != nil {
		c.mu.Lock()
		c.index.Remove(key)
		c.mu.Unlock()
		return nil, Meta{}, false
	}
	metaRaw, err := os.ReadFile(e.metaPath)
	if err != nil {
		return raw, Meta{CacheKey: key, SizeBytes: int64(len(raw))}, true
	}
	var m Meta
	_ = sonic.Unmarshal(metaRaw, &m)
	m.AccessedAt = nowUnix()
	go c.touchMeta(e.metaPath, m)
	return raw, m, true
}

func (c *Cache) touchMeta(metaPath string, m Meta) {
	data, err := sonic.Marshal(m)
	if err != nil {
		return
	}
	_ = os.WriteFile(metaPath, data, 0o644)
}

// Put atomically writes data under key, evicting older entries if the
// cache would otherwise exceed maxBytes.
func (c *Cache) Put(key string, data []byte, contentType string) error {
	dir, path, metaPath := c.shardPath(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("segcache: mkdir shard: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("segcache: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("segcache: rename: %w", err)
	}

	now := nowUnix()
	meta := Meta{CacheKey: key, SizeBytes: int64(len(data)), ContentType: contentType, CreatedAt: now, AccessedAt: now}
	metaData, err := sonic.Marshal(meta)
	if err != nil {
		return fmt.Errorf("segcache: marshal meta: %w", err)
	}
	metaTmp := metaPath + ".tmp"
	if err := os.WriteFile(metaTmp, metaData, 0o644); err != nil {
		return fmt.Errorf("segcache: write meta tmp: %w", err)
	}
	if err := os.Rename(metaTmp, metaPath); err != nil {
		return fmt.Errorf("segcache: rename meta: %w", err)
	}

	c.mu.Lock()
	c.index.Add(key, indexEntry{path: path, metaPath: metaPath, sizeBytes: int64(len(data))})
	c.currentSize += int64(len(data))
	for c.maxBytes > 0 && c.currentSize > c.maxBytes && c.index.Len() > 1 {
		if _, _, evicted := c.index.RemoveOldest(); !evicted {
			break
		}
	}
	c.mu.Unlock()
	return nil
}

// Remove evicts key immediately, deleting its audio file and sidecar.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	c.index.Remove(key)
	c.mu.Unlock()
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// Size reports the current total size in bytes of cached entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// ReapStale removes entries whose metadata sidecar reports no access
// within olderThan, returning the count removed. This runs on a timer
// independent of the size-bounded LRU eviction in Put, catching rarely
// cached segments (a one-off narration) that would otherwise sit on disk
// indefinitely under a generous maxBytes.
func (c *Cache) ReapStale(olderThan time.Duration) int {
	cutoff := nowUnix() - int64(olderThan.Seconds())
	c.mu.Lock()
	keys := c.index.Keys()
	c.mu.Unlock()

	n := 0
	for _, key := range keys {
		c.mu.Lock()
		e, found := c.index.Peek(key)
		c.mu.Unlock()
		if !found {
			continue
		}
		metaRaw, err := os.ReadFile(e.metaPath)
		if err != nil {
			continue
		}
		var m Meta
		if err := sonic.Unmarshal(metaRaw, &m); err != nil {
			continue
		}
		if m.AccessedAt < cutoff {
			c.mu.Lock()
			c.index.Remove(key)
			c.mu.Unlock()
			n++
		}
	}
	return n
}

var nowUnix = func() int64 { return time.Now().Unix() }
