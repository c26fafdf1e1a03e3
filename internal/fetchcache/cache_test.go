package fetchcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rufous/internal/core"
	"rufous/internal/source"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   int32
	err     error
	txns    []core.Transaction
	release chan struct{} // when non-nil, Fetch blocks until closed
}

func (f *fakeSource) Fetch(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Transaction, len(f.txns))
	copy(out, f.txns)
	return out, nil
}

func (f *fakeSource) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type fakeStore struct {
	mu        sync.Mutex
	txns      []core.Transaction
	fetchedAt time.Time
	saveErr   error
	saves     int
}

func (s *fakeStore) Load(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txns, s.fetchedAt, nil
}

func (s *fakeStore) Save(ctx context.Context, accountID string, period core.Period, txns []core.Transaction, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.txns = txns
	s.fetchedAt = fetchedAt
	s.saves++
	return nil
}

var testPeriod = core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))

func sampleTxns() []core.Transaction {
	return []core.Transaction{
		{ID: "t1", AccountID: "acc", Date: core.NewDate(2024, 1, 5), Amount: core.Money{Cents: -4500}, Description: "Tim Hortons"},
	}
}

func TestCacheHitWithinTimeout(t *testing.T) {
	src := &fakeSource{txns: sampleTxns()}
	cache := New(src, nil, Config{SessionTimeout: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		txns, err := cache.GetTransactions(context.Background(), "acc", testPeriod)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if len(txns) != 1 {
			t.Fatalf("get %d: expected 1 transaction, got %d", i, len(txns))
		}
	}
	if src.callCount() != 1 {
		t.Errorf("expected 1 source fetch, got %d", src.callCount())
	}
}

func TestCacheExpiryRefetches(t *testing.T) {
	src := &fakeSource{txns: sampleTxns()}
	cache := New(src, nil, Config{SessionTimeout: 10 * time.Minute}, nil)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	if _, err := cache.GetTransactions(context.Background(), "acc", testPeriod); err != nil {
		t.Fatalf("first get: %v", err)
	}

	// Still fresh 9 minutes later.
	now = now.Add(9 * time.Minute)
	if _, err := cache.GetTransactions(context.Background(), "acc", testPeriod); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if src.callCount() != 1 {
		t.Fatalf("expected entry still fresh, got %d fetches", src.callCount())
	}

	// Stale 11 minutes after the fetch: lazily evicted, refetched.
	now = now.Add(2 * time.Minute)
	if _, err := cache.GetTransactions(context.Background(), "acc", testPeriod); err != nil {
		t.Fatalf("third get: %v", err)
	}
	if src.callCount() != 2 {
		t.Errorf("expected refetch after expiry, got %d fetches", src.callCount())
	}
}

func TestCoalescingSingleFetch(t *testing.T) {
	src := &fakeSource{txns: sampleTxns(), release: make(chan struct{})}
	cache := New(src, nil, Config{SessionTimeout: time.Minute}, nil)

	const waiters = 10
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	counts := make([]int, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txns, err := cache.GetTransactions(context.Background(), "acc", testPeriod)
			errs[i] = err
			counts[i] = len(txns)
		}(i)
	}

	// Give the goroutines time to pile onto the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if counts[i] != 1 {
			t.Fatalf("waiter %d: expected 1 transaction, got %d", i, counts[i])
		}
	}
	if src.callCount() != 1 {
		t.Errorf("expected exactly 1 coalesced fetch, got %d", src.callCount())
	}
}

func TestFetchFailureSharedByWaiters(t *testing.T) {
	src := &fakeSource{err: errors.New("aggregator unavailable"), release: make(chan struct{})}
	cache := New(src, nil, Config{SessionTimeout: time.Minute}, nil)

	const waiters = 5
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.GetTransactions(context.Background(), "acc", testPeriod)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Fatalf("waiter %d: expected error", i)
		}
		var fe *source.FetchError
		if !errors.As(err, &fe) {
			t.Errorf("waiter %d: expected FetchError, got %T: %v", i, err, err)
		}
	}
	if src.callCount() != 1 {
		t.Errorf("expected single failed fetch shared by all waiters, got %d", src.callCount())
	}
	// A failure is not cached: the next request tries again.
	src.release = nil
	if _, err := cache.GetTransactions(context.Background(), "acc", testPeriod); err == nil {
		t.Error("expected error on retry with failing source")
	}
	if src.callCount() != 2 {
		t.Errorf("expected a fresh fetch after failure, got %d", src.callCount())
	}
}

func TestDistinctKeysFetchIndependently(t *testing.T) {
	src := &fakeSource{txns: sampleTxns()}
	cache := New(src, nil, Config{SessionTimeout: time.Minute}, nil)

	other := core.NewPeriod(core.NewDate(2024, 2, 1), core.NewDate(2024, 2, 29))
	if _, err := cache.GetTransactions(context.Background(), "acc", testPeriod); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetTransactions(context.Background(), "acc", other); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetTransactions(context.Background(), "acc-2", testPeriod); err != nil {
		t.Fatal(err)
	}
	if src.callCount() != 3 {
		t.Errorf("expected 3 fetches for 3 distinct keys, got %d", src.callCount())
	}
}

func TestPersistentStoreSurvivesRestart(t *testing.T) {
	store := &fakeStore{}
	src := &fakeSource{txns: sampleTxns()}
	cfg := Config{SessionTimeout: time.Hour, UsePersistentStorage: true}

	first := New(src, store, cfg, nil)
	if _, err := first.GetTransactions(context.Background(), "acc", testPeriod); err != nil {
		t.Fatal(err)
	}
	if store.saves != 1 {
		t.Fatalf("expected write-through save, got %d saves", store.saves)
	}

	// A fresh cache simulates a process restart: the durable tier answers
	// before the external source.
	second := New(src, store, cfg, nil)
	txns, err := second.GetTransactions(context.Background(), "acc", testPeriod)
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected stored transactions, got %d", len(txns))
	}
	if src.callCount() != 1 {
		t.Errorf("expected no second source fetch, got %d", src.callCount())
	}
}

func TestPersistenceFailureDoesNotFailRequest(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full")}
	src := &fakeSource{txns: sampleTxns()}
	cache := New(src, store, Config{SessionTimeout: time.Hour, UsePersistentStorage: true}, nil)

	txns, err := cache.GetTransactions(context.Background(), "acc", testPeriod)
	if err != nil {
		t.Fatalf("request should survive persistence failure, got %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected transactions despite save failure, got %d", len(txns))
	}
}

func TestReturnedSliceIsACopy(t *testing.T) {
	src := &fakeSource{txns: sampleTxns()}
	cache := New(src, nil, Config{SessionTimeout: time.Minute}, nil)

	first, err := cache.GetTransactions(context.Background(), "acc", testPeriod)
	if err != nil {
		t.Fatal(err)
	}
	first[0].Description = "mutated"

	second, err := cache.GetTransactions(context.Background(), "acc", testPeriod)
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Description != "Tim Hortons" {
		t.Errorf("cache entry was mutated through a returned slice")
	}
}

func TestInvalidate(t *testing.T) {
	src := &fakeSource{txns: sampleTxns()}
	cache := New(src, nil, Config{SessionTimeout: time.Hour}, nil)

	if _, err := cache.GetTransactions(context.Background(), "acc", testPeriod); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate("acc", testPeriod)
	if _, err := cache.GetTransactions(context.Background(), "acc", testPeriod); err != nil {
		t.Fatal(err)
	}
	if src.callCount() != 2 {
		t.Errorf("expected refetch after invalidation, got %d fetches", src.callCount())
	}
}
