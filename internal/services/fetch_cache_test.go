package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGetOrFetchSharesOneUpstreamCall(t *testing.T) {
	c := NewFetchCache(nil, time.Second)
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return []float64{80.1, 80.4}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]float64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.GetOrFetch(context.Background(), "eia:BRENT", time.Minute, fetch, &results[i])
		}(i)
	}
	// let every caller reach the flight before the fetch returns
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []float64{80.1, 80.4}, results[i])
	}
	assert.Equal(t, int64(1), c.Stats().Upstream)
}

func TestGetOrFetchExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)}
	c := NewFetchCache(nil, 0)
	c.now = clock.Now
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	var got int
	require.NoError(t, c.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	require.NoError(t, c.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, calls)

	clock.Advance(time.Minute)
	require.NoError(t, c.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, calls)
}

func TestGetOrFetchDoesNotCacheErrors(t *testing.T) {
	c := NewFetchCache(nil, 0)
	boom := errors.New("boom")
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	var got string
	err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, c.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestGetOrFetchUsesSecondLevelCache(t *testing.T) {
	l2 := NewMemoryCache()
	first := NewFetchCache(l2, 0)
	second := NewFetchCache(l2, 0)
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return map[string]float64{"close": 81.2}, nil
	}

	var a, b map[string]float64
	require.NoError(t, first.GetOrFetch(context.Background(), "k", time.Minute, fetch, &a))
	require.NoError(t, second.GetOrFetch(context.Background(), "k", time.Minute, fetch, &b))
	assert.Equal(t, 1, calls)
	assert.Equal(t, a, b)
}

// stickyCache keeps values past their ttl.
type stickyCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (s *stickyCache) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[key]
	return b, ok
}

func (s *stickyCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = val
	return nil
}

func (s *stickyCache) Kind() string { return "sticky" }

func TestGetOrFetchSecondLevelHitKeepsOriginalExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)}
	l2 := NewMemoryCache()
	l2.now = clock.Now
	writer := NewFetchCache(l2, 0)
	writer.now = clock.Now
	reader := NewFetchCache(l2, 0)
	reader.now = clock.Now
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	var got int
	require.NoError(t, writer.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	clock.Advance(40 * time.Second)
	require.NoError(t, reader.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, calls)

	// past the writer's expiry the reader's local copy is gone too
	clock.Advance(25 * time.Second)
	require.NoError(t, reader.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, calls)
}

func TestGetOrFetchIgnoresExpiredSecondLevelEntry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)}
	l2 := &stickyCache{items: map[string][]byte{}}
	writer := NewFetchCache(l2, 0)
	writer.now = clock.Now
	reader := NewFetchCache(l2, 0)
	reader.now = clock.Now
	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	var got int
	require.NoError(t, writer.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	clock.Advance(2 * time.Minute)
	require.NoError(t, reader.GetOrFetch(context.Background(), "k", time.Minute, fetch, &got))
	assert.Equal(t, 2, got)

	// a value written in the old bare format is a miss
	l2.items["old"] = []byte(`17`)
	require.NoError(t, reader.GetOrFetch(context.Background(), "old", time.Minute, fetch, &got))
	assert.Equal(t, 3, got)
}

func TestGetOrFetchCallerCancelDoesNotPoisonFlight(t *testing.T) {
	c := NewFetchCache(nil, time.Second)
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		<-release
		return "fresh", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var v string
		done <- c.GetOrFetch(ctx, "k", time.Minute, fetch, &v)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	var v string
	require.NoError(t, c.GetOrFetch(context.Background(), "k", time.Minute, fetch, &v))
	assert.Equal(t, "fresh", v)
}

func TestFetchKeyIgnoresOrderAndCase(t *testing.T) {
	a := FetchKey("eia", []string{"wti", "BRENT"}, map[string]string{"b": "2", "a": "1"})
	b := FetchKey("eia", []string{"BRENT", "WTI"}, map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, FetchKey("eia", []string{"BRENT"}, nil))
}
