package cache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// entry is a node in the doubly-linked recency list
type entry struct {
	key      string
	files    []string
	storedAt time.Time
	prev     *entry
	next     *entry
}

// FileSetCache is an LRU cache of package file sets with a freshness window.
// Entries older than ttl are treated as misses so external edits to a package
// folder are picked up without an explicit invalidation.
type FileSetCache struct {
	maxSize int
	size    int
	ttl     time.Duration

	head *entry
	tail *entry

	entries map[string]*entry

	mutex sync.Mutex
	now   func() time.Time

	hits    int64
	misses  int64
	expired int64
}

// NewFileSetCache creates a cache holding at most maxSize package file sets
func NewFileSetCache(maxSize int, ttl time.Duration) *FileSetCache {
	if maxSize <= 0 {
		maxSize = 512
	}

	head := &entry{}
	tail := &entry{}
	head.next = tail
	tail.prev = head

	return &FileSetCache{
		maxSize: maxSize,
		ttl:     ttl,
		head:    head,
		tail:    tail,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Get returns a copy of the cached file set of a package
func (c *FileSetCache) Get(name string) ([]string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, ok := c.entries[name]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.unlink(e)
		delete(c.entries, name)
		c.size--
		atomic.AddInt64(&c.misses, 1)
		atomic.AddInt64(&c.expired, 1)
		return nil, false
	}

	c.moveToFront(e)
	atomic.AddInt64(&c.hits, 1)
	return slices.Clone(e.files), true
}

// Set stores a copy of a package's file set
func (c *FileSetCache) Set(name string, files []string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if e, ok := c.entries[name]; ok {
		e.files = slices.Clone(files)
		e.storedAt = c.now()
		c.moveToFront(e)
		return
	}

	e := &entry{key: name, files: slices.Clone(files), storedAt: c.now()}
	c.addToFront(e)
	c.entries[name] = e
	c.size++

	if c.size > c.maxSize {
		c.evictOldest()
	}
}

// Invalidate drops one package's file set
func (c *FileSetCache) Invalidate(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if e, ok := c.entries[name]; ok {
		c.unlink(e)
		delete(c.entries, name)
		c.size--
	}
}

// Clear removes all entries and resets counters
func (c *FileSetCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.entries = make(map[string]*entry)
	c.size = 0

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.expired, 0)
}

// Stats returns current cache statistics
func (c *FileSetCache) Stats() domain.FileSetStats {
	c.mutex.Lock()
	size := c.size
	c.mutex.Unlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	var hitRatio float64
	if total := hits + misses; total > 0 {
		hitRatio = float64(hits) / float64(total)
	}

	return domain.FileSetStats{
		Hits:     hits,
		Misses:   misses,
		Expired:  atomic.LoadInt64(&c.expired),
		Size:     size,
		MaxSize:  c.maxSize,
		HitRatio: hitRatio,
	}
}

// HealthCheck reports cache utilization
func (c *FileSetCache) HealthCheck(ctx context.Context) domain.HealthStatus {
	stats := c.Stats()

	status := domain.HealthStatusHealthy
	message := "File set cache is operating normally"
	details := map[string]any{
		"size":      stats.Size,
		"max_size":  stats.MaxSize,
		"hit_ratio": stats.HitRatio,
		"ttl":       c.ttl.String(),
	}

	if stats.Size >= stats.MaxSize {
		status = domain.HealthStatusDegraded
		message = "File set cache is full, package walks are being repeated"
	}

	return domain.HealthStatus{
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}

func (c *FileSetCache) moveToFront(e *entry) {
	c.unlink(e)
	c.addToFront(e)
}

func (c *FileSetCache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *FileSetCache) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *FileSetCache) evictOldest() {
	if c.tail.prev == c.head {
		return
	}
	lru := c.tail.prev
	c.unlink(lru)
	delete(c.entries, lru.key)
	c.size--
}
