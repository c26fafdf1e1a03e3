// Package fetchcache mediates between the analysis engine and the external
// transaction source. Results are cached per (account, period) key for the
// configured session timeout, and concurrent requests for the same key share
// a single external fetch.
package fetchcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"rufous/internal/core"
	"rufous/internal/metrics"
	"rufous/internal/source"
)

// Store is the optional durable tier: when persistent storage is enabled,
// cached fetches are written through and survive process restarts. Load
// returns a zero fetchedAt time when nothing is stored for the key.
type Store interface {
	Load(ctx context.Context, accountID string, period core.Period) (txns []core.Transaction, fetchedAt time.Time, err error)
	Save(ctx context.Context, accountID string, period core.Period, txns []core.Transaction, fetchedAt time.Time) error
}

// DefaultSessionTimeout bounds how long a fetched transaction set stays
// servable without contacting the external source again.
const DefaultSessionTimeout = 30 * time.Minute

// Config holds the cache tuning knobs.
type Config struct {
	SessionTimeout       time.Duration
	UsePersistentStorage bool
}

type entry struct {
	transactions []core.Transaction
	fetchedAt    time.Time
}

// Cache is the time-bounded transaction cache. Safe for concurrent use; the
// only synchronization the rest of the engine relies on lives here.
type Cache struct {
	src     source.TransactionSource
	store   Store
	timeout time.Duration
	persist bool
	metrics *metrics.Metrics

	// now is swappable in tests.
	now func() time.Time

	sf      singleflight.Group
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a cache in front of the given source. store may be nil when
// persistent storage is disabled.
func New(src source.TransactionSource, store Store, cfg Config, m *metrics.Metrics) *Cache {
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Cache{
		src:     src,
		store:   store,
		timeout: timeout,
		persist: cfg.UsePersistentStorage && store != nil,
		metrics: m,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func cacheKey(accountID string, period core.Period) string {
	return accountID + "|" + period.String()
}

// GetTransactions returns the transactions for the key, fetching through the
// external source on a miss or after expiry. Concurrent callers for the same
// key share one in-flight fetch and receive the same result or the same
// failure. The returned slice is a copy the caller may mutate freely.
func (c *Cache) GetTransactions(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, error) {
	key := cacheKey(accountID, period)

	if txns, ok := c.lookup(ctx, key); ok {
		c.metrics.IncCacheHit()
		return txns, nil
	}

	result, err, shared := c.sf.Do(key, func() (interface{}, error) {
		return c.fill(ctx, key, accountID, period)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.metrics.IncCoalescedFetch()
	}
	return copyTransactions(result.([]core.Transaction)), nil
}

// lookup serves fresh entries from memory and lazily evicts stale ones.
func (c *Cache) lookup(ctx context.Context, key string) ([]core.Transaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) > c.timeout {
		delete(c.entries, key)
		c.metrics.IncCacheEviction()
		slog.DebugContext(ctx, "Cache entry expired", "key", key, "fetched_at", e.fetchedAt)
		return nil, false
	}
	return copyTransactions(e.transactions), true
}

// fill runs under the per-key singleflight: exactly one caller executes it
// while late arrivals wait for its outcome.
func (c *Cache) fill(ctx context.Context, key, accountID string, period core.Period) ([]core.Transaction, error) {
	// A waiter that raced the previous fill may arrive right after the entry
	// was stored; serve it without another fetch.
	if txns, ok := c.lookup(ctx, key); ok {
		c.metrics.IncCacheHit()
		return txns, nil
	}
	c.metrics.IncCacheMiss()

	if c.persist {
		if txns, ok := c.loadStored(ctx, accountID, period); ok {
			c.remember(key, txns, c.now())
			return txns, nil
		}
	}

	// Abandonment by one coalesced caller must not cancel the fetch the
	// remaining waiters depend on.
	fetchCtx := context.WithoutCancel(ctx)
	txns, err := c.src.Fetch(fetchCtx, accountID, period)
	if err != nil {
		c.metrics.IncFetchError()
		var fe *source.FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &source.FetchError{AccountID: accountID, Period: period, Err: err}
	}

	fetchedAt := c.now()
	c.remember(key, txns, fetchedAt)
	slog.InfoContext(ctx, "Fetched transactions from source",
		"account_id", accountID,
		"period", period.String(),
		"count", len(txns))

	if c.persist {
		if err := c.store.Save(ctx, accountID, period, txns, fetchedAt); err != nil {
			// Persistence failures never abort the analysis already served
			// from memory.
			slog.WarnContext(ctx, "Failed to persist cached transactions",
				"account_id", accountID,
				"period", period.String(),
				"error", err)
		}
	}
	return txns, nil
}

func (c *Cache) loadStored(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, bool) {
	txns, fetchedAt, err := c.store.Load(ctx, accountID, period)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load cached transactions from store",
			"account_id", accountID,
			"period", period.String(),
			"error", err)
		return nil, false
	}
	if fetchedAt.IsZero() || c.now().Sub(fetchedAt) > c.timeout {
		return nil, false
	}
	return txns, true
}

func (c *Cache) remember(key string, txns []core.Transaction, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{transactions: copyTransactions(txns), fetchedAt: fetchedAt}
}

// Invalidate drops the in-memory entry for a key, forcing the next request to
// fetch again. Used after recategorization so analyses see updated tags.
func (c *Cache) Invalidate(accountID string, period core.Period) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(accountID, period))
}

// Clear empties the in-memory session cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Size returns the number of in-memory entries, expired or not.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func copyTransactions(txns []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, len(txns))
	copy(out, txns)
	return out
}
