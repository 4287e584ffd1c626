package fileio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/internal/telemetry"
	"github.com/marmos91/tablerpc/pkg/metrics"
)

// DefaultShards is used when NewCache is given a non-positive shard count.
const DefaultShards = 16

// Loader constructs the FileIO for key after a cache miss.
type Loader func(ctx context.Context, key CacheKey) (FileIO, error)

// Cache holds one FileIO per CacheKey. Keys are spread over shards by
// CacheKey.Hash so unrelated tables do not contend on one lock.
//
// Concurrent Gets for the same key run the loader once; the others wait for
// its result. A failed load is not cached.
type Cache struct {
	shards  []*shard
	metrics metrics.FileIOMetrics
	size    atomic.Int64
	closed  atomic.Bool
}

type shard struct {
	mu      sync.Mutex
	entries map[CacheKey]*entry
}

type entry struct {
	ready chan struct{}
	io    FileIO
	err   error
}

// NewCache creates a cache with n shards. m may be nil.
func NewCache(n int, m metrics.FileIOMetrics) *Cache {
	if n <= 0 {
		n = DefaultShards
	}
	c := &Cache{
		shards:  make([]*shard, n),
		metrics: m,
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[CacheKey]*entry)}
	}
	return c
}

func (c *Cache) shardFor(key CacheKey) *shard {
	return c.shards[key.Hash()%uint64(len(c.shards))]
}

// Get returns the cached FileIO for key, calling load on a miss.
func (c *Cache) Get(ctx context.Context, key CacheKey, load Loader) (FileIO, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	scheme := Scheme(key.Location())
	sh := c.shardFor(key)

	sh.mu.Lock()
	if e, ok := sh.entries[key]; ok {
		sh.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		if c.metrics != nil {
			c.metrics.RecordCacheHit(scheme)
		}
		return e.io, nil
	}

	// Close flips closed before draining shards, so checking again under the
	// shard lock keeps an entry from being inserted after its shard was drained.
	if c.closed.Load() {
		sh.mu.Unlock()
		return nil, ErrClosed
	}

	e := &entry{ready: make(chan struct{})}
	sh.entries[key] = e
	sh.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCacheMiss(scheme)
	}

	c.fill(ctx, sh, key, e, scheme, load)
	return e.io, e.err
}

// fill runs the loader for e and always closes e.ready, even if the loader
// panics. A failed or panicking load removes e so the next Get retries.
func (c *Cache) fill(ctx context.Context, sh *shard, key CacheKey, e *entry, scheme string, load Loader) {
	done := false
	defer func() {
		var r any
		if !done {
			r = recover()
			e.io, e.err = nil, fmt.Errorf("%w: %v", ErrLoadPanic, r)
		}
		if e.err != nil {
			sh.mu.Lock()
			if sh.entries[key] == e {
				delete(sh.entries, key)
			}
			sh.mu.Unlock()
		} else {
			c.setSize(c.size.Add(1))
		}
		close(e.ready)
		if !done {
			panic(r)
		}
	}()

	e.io, e.err = c.load(ctx, key, scheme, load)
	done = true
}

func (c *Cache) load(ctx context.Context, key CacheKey, scheme string, load Loader) (FileIO, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFileIOLoad)
	defer span.End()
	span.SetAttributes(
		telemetry.Table(key.Table().String()),
		telemetry.Location(key.Location()),
	)

	start := time.Now()
	fio, err := load(ctx, key)
	if c.metrics != nil {
		c.metrics.RecordLoad(scheme, time.Since(start), err)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "FileIO load failed",
			logger.Table(key.Table().String()),
			logger.Location(key.Location()),
			logger.Err(err))
		return nil, err
	}

	logger.DebugCtx(ctx, "FileIO loaded",
		logger.Table(key.Table().String()),
		logger.Location(key.Location()),
		logger.DurationMs(logger.Duration(start)))
	return fio, nil
}

// Invalidate removes key and closes its FileIO. It reports whether an entry
// was removed. An entry still loading is dropped from the map; its waiters
// still receive the loaded value.
func (c *Cache) Invalidate(key CacheKey) bool {
	sh := c.shardFor(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if ok {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()

	if !ok {
		return false
	}

	if c.metrics != nil {
		c.metrics.RecordInvalidation()
	}
	select {
	case <-e.ready:
		c.release(e)
	default:
		go c.release(e)
	}
	return true
}

// release closes e's FileIO once its load has finished.
func (c *Cache) release(e *entry) {
	<-e.ready
	if e.err != nil || e.io == nil {
		return
	}
	c.setSize(c.size.Add(-1))
	if err := e.io.Close(); err != nil {
		logger.Debug("Error closing FileIO", logger.Err(err))
	}
}

// Len returns the number of loaded entries.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// Close closes every cached FileIO. Later Gets fail with ErrClosed.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var pending []*entry
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			pending = append(pending, e)
			delete(sh.entries, k)
		}
		sh.mu.Unlock()
	}

	for _, e := range pending {
		c.release(e)
	}
	return nil
}

func (c *Cache) setSize(n int64) {
	if c.metrics != nil {
		c.metrics.SetCacheEntries(int(n))
	}
}
