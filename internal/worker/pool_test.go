package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memQueue is an in-memory claim-lease queue mirroring the store's
// stamping semantics.
type memQueue struct {
	mu    sync.Mutex
	items map[string]*memItem
	order []string
}

type memItem struct {
	claimedBy string
	claimedAt time.Time
	attempts  int
	done      bool
	failed    bool
}

func newMemQueue(ids ...string) *memQueue {
	q := &memQueue{items: make(map[string]*memItem)}
	for _, id := range ids {
		q.items[id] = &memItem{}
		q.order = append(q.order, id)
	}
	return q
}

func (q *memQueue) Name() string { return "test" }

func (q *memQueue) Claim(_ context.Context, workerID string, now time.Time, lease time.Duration) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		it := q.items[id]
		if it.done {
			continue
		}
		if it.claimedBy != "" && now.Sub(it.claimedAt) < lease {
			continue
		}
		it.claimedBy = workerID
		it.claimedAt = now
		return id, true, nil
	}
	return "", false, nil
}

func (q *memQueue) Retry(_ context.Context, itemID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it := q.items[itemID]
	it.attempts++
	return it.attempts, nil
}

func (q *memQueue) Fail(_ context.Context, itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it := q.items[itemID]
	it.done = true
	it.failed = true
	it.claimedBy = ""
	it.claimedAt = time.Time{}
	return nil
}

func (q *memQueue) ReapExpired(_ context.Context, now time.Time, lease time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.done || it.claimedBy == "" {
			continue
		}
		if now.Sub(it.claimedAt) >= lease {
			it.claimedBy = ""
			it.claimedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func (q *memQueue) finish(itemID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[itemID].done = true
}

func (q *memQueue) pendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if !it.done {
			n++
		}
	}
	return n
}

func TestDrain_ProcessesAll(t *testing.T) {
	q := newMemQueue("a", "b", "c")
	var mu sync.Mutex
	var seen []string
	pool := NewPool(Config{}, q, func(_ context.Context, id string) error {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		q.finish(id)
		return nil
	})

	n, err := pool.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	assert.Zero(t, q.pendingCount())
}

func TestDrain_FailingOldestItemDoesNotStarveQueue(t *testing.T) {
	q := newMemQueue("bad", "good")
	badAttempts := 0
	goodDone := false
	pool := NewPool(Config{Lease: time.Hour}, q, func(_ context.Context, id string) error {
		if id == "bad" {
			badAttempts++
			return assert.AnError
		}
		goodDone = true
		q.finish(id)
		return nil
	})

	// The failing item keeps its lease, so the same pass moves on to the
	// younger item and terminates instead of re-claiming "bad" forever.
	n, err := pool.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, badAttempts)
	assert.True(t, goodDone)
	assert.Equal(t, 1, q.items["bad"].attempts)
	assert.False(t, q.items["bad"].done)
}

func TestDrain_ItemMovedToFailedAfterMaxAttempts(t *testing.T) {
	q := newMemQueue("bad")
	attempts := 0
	pool := NewPool(Config{Lease: time.Nanosecond, MaxAttempts: 3}, q, func(_ context.Context, _ string) error {
		attempts++
		return assert.AnError
	})

	// A nanosecond lease makes each retry immediately claimable again;
	// the attempt cap still bounds the loop and parks the item.
	n, err := pool.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, attempts)
	assert.True(t, q.items["bad"].failed)

	// A failed item is never claimable again.
	_, ok, err := q.Claim(context.Background(), "w1", time.Now().UTC(), time.Nanosecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaim_SkippedWithinLease(t *testing.T) {
	q := newMemQueue("a")
	now := time.Now().UTC()

	id, ok, err := q.Claim(context.Background(), "w1", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", id)

	// Another worker inside the lease window sees nothing.
	_, ok, err = q.Claim(context.Background(), "w2", now.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Past the lease the claim is stale and may be taken over.
	id, ok, err = q.Claim(context.Background(), "w2", now.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestReapExpired_ReclaimsOnlyStale(t *testing.T) {
	q := newMemQueue("stale", "fresh")
	now := time.Now().UTC()

	_, ok, err := q.Claim(context.Background(), "w1", now.Add(-10*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = q.Claim(context.Background(), "w2", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := q.ReapExpired(context.Background(), now, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	q := newMemQueue("a", "b")
	pool := NewPool(Config{Workers: 2, PollInterval: 5 * time.Millisecond, ReapInterval: 10 * time.Millisecond}, q,
		func(_ context.Context, id string) error {
			q.finish(id)
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return q.pendingCount() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestRun_ConcurrentWorkersNoDoubleProcessing(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	q := newMemQueue(ids...)

	var mu sync.Mutex
	counts := make(map[string]int)
	pool := NewPool(Config{Workers: 8, Lease: time.Hour, PollInterval: time.Millisecond}, q,
		func(_ context.Context, id string) error {
			mu.Lock()
			counts[id]++
			mu.Unlock()
			q.finish(id)
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return q.pendingCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	for id, n := range counts {
		assert.Equal(t, 1, n, "item %s processed %d times", id, n)
	}
	assert.Len(t, counts, len(ids))
}
