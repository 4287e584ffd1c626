package fileio

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackedIO records whether it was closed.
type trackedIO struct {
	closed atomic.Bool
}

func (t *trackedIO) Open(context.Context, string) (io.ReadCloser, error) { return nil, ErrNotFound }
func (t *trackedIO) Exists(context.Context, string) (bool, error)        { return false, nil }
func (t *trackedIO) Close() error {
	t.closed.Store(true)
	return nil
}

// fileIOCounter counts cache events.
type fileIOCounter struct {
	hits, misses, loads, invalidations atomic.Int32
	entries                            atomic.Int32
}

func (c *fileIOCounter) RecordCacheHit(string)                   { c.hits.Add(1) }
func (c *fileIOCounter) RecordCacheMiss(string)                  { c.misses.Add(1) }
func (c *fileIOCounter) RecordLoad(string, time.Duration, error) { c.loads.Add(1) }
func (c *fileIOCounter) RecordInvalidation()                     { c.invalidations.Add(1) }
func (c *fileIOCounter) SetCacheEntries(n int)                   { c.entries.Store(int32(n)) }

func TestCacheGetLoadsOnce(t *testing.T) {
	m := &fileIOCounter{}
	c := NewCache(4, m)
	key := mustKey(t, ident("db", "t"), "/data/t")

	var calls atomic.Int32
	loader := func(context.Context, CacheKey) (FileIO, error) {
		calls.Add(1)
		return &trackedIO{}, nil
	}

	first, err := c.Get(context.Background(), key, loader)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), key, loader)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int32(1), m.misses.Load())
	assert.Equal(t, int32(1), m.hits.Load())
	assert.Equal(t, int32(1), m.entries.Load())
}

func TestCacheConcurrentGetSingleConstruction(t *testing.T) {
	c := NewCache(0, nil)
	key := mustKey(t, ident("db", "t"), "s3://b/t")

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context, CacheKey) (FileIO, error) {
		calls.Add(1)
		<-release
		return &trackedIO{}, nil
	}

	const n = 32
	results := make([]FileIO, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fio, err := c.Get(context.Background(), key, loader)
			assert.NoError(t, err)
			results[i] = fio
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestCacheDistinguishesShiftedKeys(t *testing.T) {
	c := NewCache(8, nil)
	a := mustKey(t, TableIdentifier{Catalog: "c", Database: "d", Table: "T"}, "1/x")
	b := mustKey(t, TableIdentifier{Catalog: "c", Database: "d", Table: "T1"}, "/x")

	loader := func(context.Context, CacheKey) (FileIO, error) { return &trackedIO{}, nil }

	fa, err := c.Get(context.Background(), a, loader)
	require.NoError(t, err)
	fb, err := c.Get(context.Background(), b, loader)
	require.NoError(t, err)

	assert.NotSame(t, fa, fb)
	assert.Equal(t, 2, c.Len())
}

func TestCacheFailedLoadIsNotCached(t *testing.T) {
	c := NewCache(2, nil)
	key := mustKey(t, ident("db", "t"), "/data/t")

	boom := errors.New("boom")
	_, err := c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	fio, err := c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
		return &trackedIO{}, nil
	})
	require.NoError(t, err)
	assert.NotNil(t, fio)
	assert.Equal(t, 1, c.Len())
}

func TestCacheInvalidate(t *testing.T) {
	m := &fileIOCounter{}
	c := NewCache(2, m)
	key := mustKey(t, ident("db", "t"), "/data/t")

	fio := &trackedIO{}
	_, err := c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) { return fio, nil })
	require.NoError(t, err)

	assert.True(t, c.Invalidate(key))
	assert.True(t, fio.closed.Load())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(1), m.invalidations.Load())

	assert.False(t, c.Invalidate(key))

	var calls atomic.Int32
	_, err = c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
		calls.Add(1)
		return &trackedIO{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheGetHonoursContextWhileWaiting(t *testing.T) {
	c := NewCache(1, nil)
	key := mustKey(t, ident("db", "t"), "/data/t")

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	go func() {
		_, _ = c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
			close(started)
			<-release
			return &trackedIO{}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, key, func(context.Context, CacheKey) (FileIO, error) {
		t.Fatal("loader must not run twice")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCacheClose(t *testing.T) {
	c := NewCache(4, nil)

	var ios []*trackedIO
	for _, name := range []string{"a", "b", "c"} {
		fio := &trackedIO{}
		ios = append(ios, fio)
		_, err := c.Get(context.Background(), mustKey(t, ident("db", name), "/data/"+name),
			func(context.Context, CacheKey) (FileIO, error) { return fio, nil })
		require.NoError(t, err)
	}
	require.Equal(t, 3, c.Len())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	for _, fio := range ios {
		assert.True(t, fio.closed.Load())
	}
	assert.Equal(t, 0, c.Len())

	_, err := c.Get(context.Background(), mustKey(t, ident("db", "a"), "/data/a"),
		func(context.Context, CacheKey) (FileIO, error) { return &trackedIO{}, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCacheLoaderPanicReleasesWaiters(t *testing.T) {
	c := NewCache(1, nil)
	key := mustKey(t, ident("db", "t"), "/data/t")

	started := make(chan struct{})
	release := make(chan struct{})
	panicked := make(chan any, 1)
	go func() {
		defer func() { panicked <- recover() }()
		_, _ = c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
			close(started)
			<-release
			panic("loader exploded")
		})
	}()
	<-started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
			return &trackedIO{}, nil
		})
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case r := <-panicked:
		assert.Equal(t, "loader exploded", r)
	case <-time.After(time.Second):
		t.Fatal("loader panic was not propagated")
	}
	select {
	case err := <-waiterErr:
		// The waiter either saw the failed load or arrived after it and loaded anew.
		if err != nil {
			assert.ErrorIs(t, err, ErrLoadPanic)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter blocked on a panicked load")
	}

	fio, err := c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
		return &trackedIO{}, nil
	})
	require.NoError(t, err)
	assert.NotNil(t, fio)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked after a panicked load")
	}
}

func TestCacheCloseRacingGetDoesNotInsert(t *testing.T) {
	c := NewCache(1, nil)
	key := mustKey(t, ident("db", "t"), "/data/t")
	sh := c.shardFor(key)

	// Hold the shard so Get passes its unlocked closed check and then blocks.
	sh.mu.Lock()
	var calls atomic.Int32
	got := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
			calls.Add(1)
			return &trackedIO{}, nil
		})
		got <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.closed.Store(true)
	sh.mu.Unlock()

	assert.ErrorIs(t, <-got, ErrClosed)
	assert.Equal(t, int32(0), calls.Load())
	sh.mu.Lock()
	assert.Empty(t, sh.entries)
	sh.mu.Unlock()
	assert.Equal(t, 0, c.Len())
}

func TestCacheWaiterOnFailedLoadIsNotAHit(t *testing.T) {
	m := &fileIOCounter{}
	c := NewCache(1, m)
	key := mustKey(t, ident("db", "t"), "/data/t")

	boom := errors.New("boom")
	started := make(chan struct{})
	release := make(chan struct{})
	loaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
			close(started)
			<-release
			return nil, boom
		})
		loaderErr <- err
	}()
	<-started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key, func(context.Context, CacheKey) (FileIO, error) {
			return nil, boom
		})
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.ErrorIs(t, <-loaderErr, boom)
	assert.ErrorIs(t, <-waiterErr, boom)
	assert.Equal(t, int32(0), m.hits.Load())
}
