package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tonaccess/pkg/log"
	"tonaccess/pkg/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshAfter is the snapshot age at which callers trigger a refresh.
	DefaultRefreshAfter = time.Minute
	// DefaultStaleAfter is the snapshot age after which it is no longer served.
	DefaultStaleAfter = 10 * time.Minute
	// DefaultFetchTimeout bounds one manager fetch including retries.
	DefaultFetchTimeout = 15 * time.Second
	// DefaultRetryInterval is how long a failed refresh suppresses further refreshes
	// while the cached snapshot is still within the staleness threshold.
	DefaultRetryInterval = 30 * time.Second

	refreshKey = "refresh"
)

// SnapshotStore persists the last good snapshot across restarts.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithRefreshAfter sets the age at which a caller triggers a synchronous refresh.
func WithRefreshAfter(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.refreshAfter = d
		}
	}
}

// WithStaleAfter sets the staleness threshold.
func WithStaleAfter(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithFetchTimeout bounds a single shared manager fetch.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithRetryInterval sets how long callers keep serving the cached snapshot after a
// failed refresh before trying the manager again.
func WithRetryInterval(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d >= 0 {
			c.retryInterval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStore enables snapshot persistence.
func WithStore(store SnapshotStore) CacheOption {
	return func(c *Cache) {
		c.store = store
	}
}

// Cache owns the current fleet snapshot. Reads are concurrent, replacement is
// wholesale, and concurrent refreshes share one manager fetch.
type Cache struct {
	managerURL    string
	fetcher       Fetcher
	store         SnapshotStore
	refreshAfter  time.Duration
	staleAfter    time.Duration
	fetchTimeout  time.Duration
	retryInterval time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	mu          sync.RWMutex
	snapshot    *Snapshot
	lastError   error
	lastFailure time.Time

	group    singleflight.Group
	fetches  atomic.Int64
	failures atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCache creates a fleet cache for the given manager.
func NewCache(managerURL string, fetcher Fetcher, opts ...CacheOption) (*Cache, error) {
	if managerURL == "" {
		return nil, ErrEmptyManagerURL
	}
	if fetcher == nil {
		fetcher = NewDefaultHTTPFetcher()
	}

	cache := &Cache{
		managerURL:    managerURL,
		fetcher:       fetcher,
		refreshAfter:  DefaultRefreshAfter,
		staleAfter:    DefaultStaleAfter,
		fetchTimeout:  DefaultFetchTimeout,
		retryInterval: DefaultRetryInterval,
		now:           time.Now,
		logger:        log.Component("fleet"),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cache)
	}
	if cache.refreshAfter > cache.staleAfter {
		cache.refreshAfter = cache.staleAfter
	}

	return cache, nil
}

// ManagerURL returns the manager endpoint this cache refreshes from.
func (c *Cache) ManagerURL() string {
	return c.managerURL
}

// StaleAfter returns the staleness threshold.
func (c *Cache) StaleAfter() time.Duration {
	return c.staleAfter
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.now()
}

// Current returns the cached snapshot without refreshing. It may be nil.
func (c *Cache) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastError returns the error of the most recent failed refresh, cleared on success.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// FetchCount returns how many manager fetches have been attempted.
func (c *Cache) FetchCount() int64 {
	return c.fetches.Load()
}

// FailureCount returns how many manager fetches have failed.
func (c *Cache) FailureCount() int64 {
	return c.failures.Load()
}

// Snapshot returns a usable snapshot, refreshing synchronously once the cached one
// is older than the refresh age. A failed refresh falls back to the cached snapshot
// while it is within the staleness threshold.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current := c.Current()
	if current != nil && current.Age(c.now()) < c.refreshAfter {
		return current, nil
	}
	if current != nil && c.backingOff(current) {
		return current, nil
	}

	fresh, err := c.refresh(ctx, false)
	if err == nil {
		return fresh, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	// Another refresh may have landed while ours failed.
	current = c.Current()
	if current == nil {
		return nil, err
	}

	age := current.Age(c.now())
	if age > c.staleAfter {
		c.logger.Error().
			Err(err).
			Dur("age", age).
			Dur("stale_after", c.staleAfter).
			Msg("Fleet snapshot is stale and refresh failed")
		return nil, fmt.Errorf("%w (snapshot age %s): %w", ErrAllNodesStale, age.Round(time.Second), err)
	}

	c.logger.Warn().
		Err(err).
		Dur("age", age).
		Msg("Refresh failed, serving cached fleet snapshot")
	return current, nil
}

// Refresh forces a manager fetch. Concurrent callers share one in-flight fetch; the
// fetch itself runs detached from ctx so a caller giving up does not abort it.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	return c.refresh(ctx, true)
}

// backingOff reports whether a recent failed refresh lets callers keep using current
// without contacting the manager. A snapshot past the staleness threshold never backs off.
func (c *Cache) backingOff(current *Snapshot) bool {
	now := c.now()
	if current.Age(now) > c.staleAfter {
		return false
	}

	c.mu.RLock()
	lastFailure := c.lastFailure
	c.mu.RUnlock()

	return !lastFailure.IsZero() && now.Sub(lastFailure) < c.retryInterval
}

func (c *Cache) refresh(ctx context.Context, force bool) (*Snapshot, error) {
	results := c.group.DoChan(refreshKey, func() (interface{}, error) {
		// A refresh may have completed between the caller's check and this call.
		if current := c.Current(); !force && current != nil && current.Age(c.now()) < c.refreshAfter {
			return current, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetchAndSwap(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		snapshot, ok := result.Val.(*Snapshot)
		if !ok {
			return nil, fmt.Errorf("unexpected refresh result %T", result.Val)
		}
		return snapshot, nil
	}
}

func (c *Cache) fetchAndSwap(ctx context.Context) (*Snapshot, error) {
	c.fetches.Add(1)
	start := c.now()

	nodes, err := c.fetcher.Fetch(ctx, c.managerURL)
	if err != nil {
		return nil, c.recordFailure(asFetchError(c.managerURL, err))
	}

	fetchedAt := c.now()
	snapshot, err := NewSnapshot(nodes, fetchedAt)
	if err != nil {
		return nil, c.recordFailure(&FetchError{URL: c.managerURL, Err: err})
	}

	if c.managerDataStale(nodes, fetchedAt) {
		return nil, c.recordFailure(fmt.Errorf("%w: no node updated within %s", ErrAllNodesStale, c.staleAfter))
	}

	c.mu.Lock()
	c.snapshot = snapshot
	c.lastError = nil
	c.lastFailure = time.Time{}
	c.mu.Unlock()

	c.logger.Debug().
		Str("manager_url", c.managerURL).
		Int("nodes", snapshot.Len()).
		Dur("took", fetchedAt.Sub(start)).
		Msg("Fleet snapshot refreshed")

	if c.store != nil {
		if err := c.store.Save(ctx, snapshot); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to persist fleet snapshot")
		}
	}

	return snapshot, nil
}

func (c *Cache) recordFailure(err error) error {
	c.failures.Add(1)

	c.mu.Lock()
	c.lastError = err
	c.lastFailure = c.now()
	c.mu.Unlock()

	c.logger.Warn().Err(err).Str("manager_url", c.managerURL).Msg("Fleet refresh failed")
	return err
}

// managerDataStale reports whether every node with a known update time is past the
// staleness threshold. Nodes without an update time do not count either way.
func (c *Cache) managerDataStale(nodes []models.NodeRecord, fetchedAt time.Time) bool {
	known := 0
	for _, node := range nodes {
		if node.LastUpdated.IsZero() {
			continue
		}
		known++
		if fetchedAt.Sub(node.LastUpdated) <= c.staleAfter {
			return false
		}
	}
	return known > 0
}

// Warm loads a persisted snapshot if the cache has none yet. A persisted snapshot keeps
// its original fetch time, so it is only served while within the staleness threshold.
func (c *Cache) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	snapshot, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}

	age := snapshot.Age(c.now())
	c.mu.Lock()
	if c.snapshot == nil {
		c.snapshot = snapshot
	}
	c.mu.Unlock()

	c.logger.Info().
		Int("nodes", snapshot.Len()).
		Dur("age", age).
		Bool("stale", age > c.staleAfter).
		Msg("Loaded persisted fleet snapshot")
	return nil
}

// Start performs an initial refresh and then refreshes in the background every
// refresh interval until Stop is called.
func (c *Cache) Start() {
	if _, err := c.Refresh(context.Background()); err != nil {
		c.logger.Warn().Err(err).Msg("Initial fleet refresh failed")
	}

	c.wg.Add(1)
	go c.refreshLoop()

	c.logger.Info().
		Str("manager_url", c.managerURL).
		Dur("interval", c.refreshAfter).
		Dur("stale_after", c.staleAfter).
		Msg("Fleet cache started")
}

// Stop stops the background refresh loop. It is safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Cache) refreshLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.refreshAfter)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.Refresh(context.Background()); err != nil {
				c.logger.Debug().Err(err).Msg("Background fleet refresh failed")
			}
		}
	}
}

func asFetchError(managerURL string, err error) error {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &FetchError{URL: managerURL, Err: err}
}
