package fleet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tonaccess/pkg/models"

	"github.com/stretchr/testify/suite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedFetcher returns nodes until failing is set.
type scriptedFetcher struct {
	calls   atomic.Int64
	failing atomic.Bool
	nodes   []models.NodeRecord
	gate    chan struct{}
	entered chan struct{}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, _ string) ([]models.NodeRecord, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failing.Load() {
		return nil, errors.New("manager unreachable")
	}
	return f.nodes, nil
}

type memoryStore struct {
	mu       sync.Mutex
	snapshot *Snapshot
	saves    int
}

func (m *memoryStore) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

func (m *memoryStore) Save(_ context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snapshot
	m.saves++
	return nil
}

// CacheTestSuite tests fleet snapshot caching, staleness and refresh coalescing
type CacheTestSuite struct {
	suite.Suite
	clock   *fakeClock
	fetcher *scriptedFetcher
	cache   *Cache
}

func testNodes() []models.NodeRecord {
	return []models.NodeRecord{
		{
			NodeID:  "node-b",
			Healthy: true,
			Weight:  1,
			Health:  map[string]bool{"toncenter-api-v2:mainnet": true},
		},
		{
			NodeID:  "node-a",
			Healthy: true,
			Weight:  3,
			Health:  map[string]bool{"toncenter-api-v2:mainnet": true, "ton-api-v4:mainnet": true},
		},
	}
}

// SetupTest builds a cache over a scripted fetcher and fake clock
func (s *CacheTestSuite) SetupTest() {
	s.clock = newFakeClock(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	s.fetcher = &scriptedFetcher{nodes: testNodes()}

	var err error
	s.cache, err = NewCache("http://manager.test/mngr/nodes", s.fetcher,
		WithClock(s.clock.Now),
		WithRefreshAfter(time.Minute),
		WithStaleAfter(10*time.Minute),
	)
	s.Require().NoError(err)
}

// TestNewCacheRequiresURL tests constructor validation
func (s *CacheTestSuite) TestNewCacheRequiresURL() {
	_, err := NewCache("", s.fetcher)
	s.ErrorIs(err, ErrEmptyManagerURL)
}

// TestRefreshAfterClampedToStaleAfter tests option normalization
func (s *CacheTestSuite) TestRefreshAfterClampedToStaleAfter() {
	cache, err := NewCache("http://manager.test", s.fetcher, WithRefreshAfter(time.Hour), WithStaleAfter(time.Minute))
	s.Require().NoError(err)
	s.Equal(time.Minute, cache.refreshAfter)
	s.Equal(time.Minute, cache.StaleAfter())
}

// TestSnapshotFetchesOnceWhileFresh tests that a fresh snapshot is served without fetching
func (s *CacheTestSuite) TestSnapshotFetchesOnceWhileFresh() {
	first, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Equal(2, first.Len())
	s.Equal(s.clock.Now(), first.FetchedAt())

	s.clock.Advance(30 * time.Second)
	second, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.Same(first, second)
	s.Equal(int64(1), s.fetcher.calls.Load())
	s.Equal(int64(1), s.cache.FetchCount())
}

// TestSnapshotRefreshesWhenAged tests that an aged snapshot is replaced wholesale
func (s *CacheTestSuite) TestSnapshotRefreshesWhenAged() {
	first, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Minute)
	second, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.NotSame(first, second)
	s.Equal(int64(2), s.fetcher.calls.Load())
	s.Equal(s.clock.Now(), second.FetchedAt())
}

// TestFailedRefreshWithinThresholdServesCached tests graceful degradation at T+9m
func (s *CacheTestSuite) TestFailedRefreshWithinThresholdServesCached() {
	first, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.fetcher.failing.Store(true)
	s.clock.Advance(9 * time.Minute)

	snapshot, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Same(first, snapshot)
	s.Equal(int64(2), s.fetcher.calls.Load())
	s.Equal(int64(1), s.cache.FailureCount())
	s.Error(s.cache.LastError())
}

// TestFailedRefreshBeyondThresholdFails tests that a stale snapshot is not served at T+11m
func (s *CacheTestSuite) TestFailedRefreshBeyondThresholdFails() {
	_, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.fetcher.failing.Store(true)
	s.clock.Advance(11 * time.Minute)

	snapshot, err := s.cache.Snapshot(context.Background())
	s.Nil(snapshot)
	s.ErrorIs(err, ErrAllNodesStale)
	s.Contains(err.Error(), "all nodes manager's data are stale")

	var fetchErr *FetchError
	s.ErrorAs(err, &fetchErr)
}

// TestRecoveryAfterStale tests that a successful refresh clears the failure state
func (s *CacheTestSuite) TestRecoveryAfterStale() {
	_, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.fetcher.failing.Store(true)
	s.clock.Advance(11 * time.Minute)
	_, err = s.cache.Snapshot(context.Background())
	s.Require().Error(err)

	s.fetcher.failing.Store(false)
	snapshot, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Equal(s.clock.Now(), snapshot.FetchedAt())
	s.NoError(s.cache.LastError())
}

// TestFailedRefreshBacksOff tests that callers reuse the cached snapshot after a failure
// instead of each waiting on the manager
func (s *CacheTestSuite) TestFailedRefreshBacksOff() {
	first, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.fetcher.failing.Store(true)
	s.clock.Advance(2 * time.Minute)

	for range 5 {
		snapshot, err := s.cache.Snapshot(context.Background())
		s.Require().NoError(err)
		s.Same(first, snapshot)
	}
	s.Equal(int64(2), s.fetcher.calls.Load(), "one failed refresh, then backoff")

	s.clock.Advance(DefaultRetryInterval)
	_, err = s.cache.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(3), s.fetcher.calls.Load(), "retried after the interval")

	s.fetcher.failing.Store(false)
	s.clock.Advance(DefaultRetryInterval)
	second, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)
	s.NotSame(first, second)
	s.Equal(int64(4), s.fetcher.calls.Load())
}

// TestBackoffEndsAtStaleness tests that a stale snapshot always triggers a refresh
func (s *CacheTestSuite) TestBackoffEndsAtStaleness() {
	_, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.fetcher.failing.Store(true)
	s.clock.Advance(10*time.Minute - 10*time.Second)
	_, err = s.cache.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Equal(int64(2), s.fetcher.calls.Load())

	s.clock.Advance(20 * time.Second)
	_, err = s.cache.Snapshot(context.Background())
	s.ErrorIs(err, ErrAllNodesStale)
	s.Equal(int64(3), s.fetcher.calls.Load())
}

// TestForcedRefreshIgnoresBackoff tests that Refresh always contacts the manager
func (s *CacheTestSuite) TestForcedRefreshIgnoresBackoff() {
	_, err := s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	s.fetcher.failing.Store(true)
	s.clock.Advance(2 * time.Minute)
	_, err = s.cache.Snapshot(context.Background())
	s.Require().NoError(err)

	_, err = s.cache.Refresh(context.Background())
	s.Error(err)
	s.Equal(int64(3), s.fetcher.calls.Load())
}

// TestFetchFailureWithoutSnapshot tests the error when nothing was ever fetched
func (s *CacheTestSuite) TestFetchFailureWithoutSnapshot() {
	s.fetcher.failing.Store(true)

	_, err := s.cache.Snapshot(context.Background())

	var fetchErr *FetchError
	s.Require().ErrorAs(err, &fetchErr)
	s.Equal("http://manager.test/mngr/nodes", fetchErr.URL)
	s.NotErrorIs(err, ErrAllNodesStale)
}

// TestDuplicateNodesRejected tests that duplicate node ids are malformed data
func (s *CacheTestSuite) TestDuplicateNodesRejected() {
	s.fetcher.nodes = append(testNodes(), models.NodeRecord{NodeID: "node-a"})

	_, err := s.cache.Snapshot(context.Background())

	var fetchErr *FetchError
	s.ErrorAs(err, &fetchErr)
	s.ErrorIs(err, ErrDuplicateNode)
	s.Nil(s.cache.Current())
}

// TestManagerReportingStaleData tests rejection of a payload where every node is outdated
func (s *CacheTestSuite) TestManagerReportingStaleData() {
	nodes := testNodes()
	for i := range nodes {
		nodes[i].LastUpdated = s.clock.Now().Add(-20 * time.Minute)
	}
	s.fetcher.nodes = nodes

	_, err := s.cache.Snapshot(context.Background())
	s.ErrorIs(err, ErrAllNodesStale)
	s.Nil(s.cache.Current())

	nodes[0].LastUpdated = s.clock.Now().Add(-time.Minute)
	_, err = s.cache.Snapshot(context.Background())
	s.NoError(err)
}

// TestConcurrentRefreshCoalesces tests that concurrent callers share one fetch
func (s *CacheTestSuite) TestConcurrentRefreshCoalesces() {
	s.fetcher.gate = make(chan struct{})
	s.fetcher.entered = make(chan struct{}, 1)

	const callers = 16
	var waitGroup sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := s.cache.Snapshot(context.Background())
			errs <- err
		}()
	}

	<-s.fetcher.entered
	time.Sleep(20 * time.Millisecond)
	close(s.fetcher.gate)
	waitGroup.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.Equal(int64(1), s.fetcher.calls.Load())
}

// TestCancelledCallerDoesNotCorruptCache tests that cancelling a waiter leaves the shared fetch running
func (s *CacheTestSuite) TestCancelledCallerDoesNotCorruptCache() {
	s.fetcher.gate = make(chan struct{})
	s.fetcher.entered = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.cache.Snapshot(ctx)
		done <- err
	}()

	<-s.fetcher.entered
	cancel()
	s.ErrorIs(<-done, context.Canceled)
	s.Nil(s.cache.Current())

	close(s.fetcher.gate)
	s.Eventually(func() bool {
		return s.cache.Current() != nil
	}, time.Second, 5*time.Millisecond)
	s.Equal(2, s.cache.Current().Len())
}

// TestCancelledContextBeforeCall tests that a dead context does no work
func (s *CacheTestSuite) TestCancelledContextBeforeCall() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.cache.Snapshot(ctx)
	s.ErrorIs(err, context.Canceled)
	s.Equal(int64(0), s.fetcher.calls.Load())
}

// TestStorePersistsAndWarms tests snapshot persistence and startup warm-up
func (s *CacheTestSuite) TestStorePersistsAndWarms() {
	store := &memoryStore{}
	cache, err := NewCache("http://manager.test", s.fetcher, WithClock(s.clock.Now), WithStore(store))
	s.Require().NoError(err)

	_, err = cache.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Equal(1, store.saves)

	s.fetcher.failing.Store(true)
	s.clock.Advance(5 * time.Minute)

	restarted, err := NewCache("http://manager.test", s.fetcher, WithClock(s.clock.Now), WithStore(store))
	s.Require().NoError(err)
	s.Require().NoError(restarted.Warm(context.Background()))
	s.Require().NotNil(restarted.Current())

	snapshot, err := restarted.Snapshot(context.Background())
	s.Require().NoError(err)
	s.Equal(store.snapshot.FetchedAt(), snapshot.FetchedAt())

	s.clock.Advance(6 * time.Minute)
	_, err = restarted.Snapshot(context.Background())
	s.ErrorIs(err, ErrAllNodesStale)
}

// TestWarmWithoutStore tests that warm-up is a no-op without a store
func (s *CacheTestSuite) TestWarmWithoutStore() {
	s.NoError(s.cache.Warm(context.Background()))
	s.Nil(s.cache.Current())
}

// TestStartStop tests the background refresh loop
func (s *CacheTestSuite) TestStartStop() {
	cache, err := NewCache("http://manager.test", s.fetcher, WithRefreshAfter(10*time.Millisecond))
	s.Require().NoError(err)

	cache.Start()
	s.NotNil(cache.Current())
	s.Eventually(func() bool {
		return s.fetcher.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cache.Stop()
	cache.Stop()
	calls := s.fetcher.calls.Load()
	time.Sleep(30 * time.Millisecond)
	s.Equal(calls, s.fetcher.calls.Load())
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}
