// Package queuetest is a behavioral suite every crawler.QueueStore
// implementation must pass.
package queuetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Store is a queue store that can also count its ongoing set.
type Store interface {
	crawler.QueueStore
	Ongoing(ctx context.Context) (int, error)
}

// Factory opens a fresh, empty store. reopen returns a second handle on the
// same backing state, simulating a process restart.
type Factory func(t *testing.T) (store Store, reopen func() Store)

// Run executes the suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("PushPopPreservesMultiset", func(t *testing.T) { testPushPopMultiset(t, factory) })
	t.Run("FIFOOrder", func(t *testing.T) { testFIFO(t, factory) })
	t.Run("ConcurrentPopIsExclusive", func(t *testing.T) { testConcurrentPop(t, factory) })
	t.Run("RestoreJumpsQueue", func(t *testing.T) { testRestoreHead(t, factory) })
	t.Run("PendingXorOngoing", func(t *testing.T) { testPendingXorOngoing(t, factory) })
	t.Run("CrashRecovery", func(t *testing.T) { testCrashRecovery(t, factory) })
	t.Run("InactiveSessionIsNoOp", func(t *testing.T) { testGating(t, factory) })
	t.Run("VendorsArePartitioned", func(t *testing.T) { testVendorPartition(t, factory) })
	t.Run("PeekHeadAndSize", func(t *testing.T) { testPeek(t, factory) })
	t.Run("RoundTripPreservesJob", func(t *testing.T) { testRoundTrip(t, factory) })
}

func job(vendor string, n int) crawler.Job {
	return crawler.Job{
		ID:     fmt.Sprintf("%s-job-%03d", vendor, n),
		Vendor: vendor,
		Kind:   crawler.JobKindProcessItem,
		Target: fmt.Sprintf("https://%s.example/item/%d", vendor, n),
	}
}

func activeStore(t *testing.T, factory Factory) (Store, func() Store) {
	t.Helper()
	store, reopen := factory(t)
	require.NoError(t, store.SetActive(context.Background(), true))
	return store, reopen
}

func drain(t *testing.T, store Store, vendor string) []crawler.Job {
	t.Helper()
	var out []crawler.Job
	for {
		got, ok, err := store.Pop(context.Background(), vendor)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, got)
	}
}

func ids(jobs []crawler.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func testPushPopMultiset(t *testing.T, factory Factory) {
	store, _ := activeStore(t, factory)
	ctx := context.Background()

	var pushed []string
	for i := 0; i < 20; i++ {
		j := job("acme", i)
		require.NoError(t, store.Push(ctx, j))
		pushed = append(pushed, j.ID)
		if i%3 == 0 {
			_, ok, err := store.Pop(ctx, "acme")
			require.NoError(t, err)
			require.True(t, ok)
			pushed = pushed[1:]
		}
	}
	popped := ids(drain(t, store, "acme"))
	sort.Strings(pushed)
	sort.Strings(popped)
	require.Equal(t, pushed, popped)
}

func testFIFO(t *testing.T, factory Factory) {
	store, _ := activeStore(t, factory)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Push(ctx, job("acme", i)))
	}
	require.Equal(t,
		[]string{"acme-job-000", "acme-job-001", "acme-job-002", "acme-job-003", "acme-job-004"},
		ids(drain(t, store, "acme")),
	)
}

func testConcurrentPop(t *testing.T, factory Factory) {
	store, _ := activeStore(t, factory)
	ctx := context.Background()
	const n = 32
	for i := 0; i < n; i++ {
		require.NoError(t, store.Push(ctx, job("acme", i)))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := store.Pop(ctx, "acme")
			if err != nil {
				errs <- err
				return
			}
			if !ok {
				errs <- fmt.Errorf("pop returned nothing")
				return
			}
			mu.Lock()
			seen[got.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, seen, n)
	for id, count := range seen {
		require.Equalf(t, 1, count, "job %s popped more than once", id)
	}
}

func testRestoreHead(t *testing.T, factory Factory) {
	store, _ := activeStore(t, factory)
	ctx := context.Background()
	require.NoError(t, store.Push(ctx, job("acme", 1)))
	require.NoError(t, store.Push(ctx, job("acme", 2)))

	first, ok, err := store.Pop(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Push(ctx, job("acme", 3)))
	require.NoError(t, store.Restore(ctx, first))

	require.Equal(t, []string{"acme-job-001", "acme-job-002", "acme-job-003"}, ids(drain(t, store, "acme")))
}

func testPendingXorOngoing(t *testing.T, factory Factory) {
	store, _ := activeStore(t, factory)
	ctx := context.Background()
	require.NoError(t, store.Push(ctx, job("acme", 1)))

	got, ok, err := store.Pop(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assertCounts(t, store, "acme", 0, 1)

	require.NoError(t, store.Restore(ctx, got))
	assertCounts(t, store, "acme", 1, 0)

	got, ok, err = store.Pop(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Finish(ctx, got))
	assertCounts(t, store, "acme", 0, 0)
}

func assertCounts(t *testing.T, store Store, vendor string, pending, ongoing int) {
	t.Helper()
	size, err := store.Size(context.Background(), vendor)
	require.NoError(t, err)
	require.Equal(t, pending, size, "pending size")
	inFlight, err := store.Ongoing(context.Background())
	require.NoError(t, err)
	require.Equal(t, ongoing, inFlight, "ongoing size")
}

func testCrashRecovery(t *testing.T, factory Factory) {
	store, reopen := activeStore(t, factory)
	ctx := context.Background()
	j1, j2, j3 := job("acme", 1), job("acme", 2), job("acme", 3)
	for _, j := range []crawler.Job{j1, j2, j3} {
		require.NoError(t, store.Push(ctx, j))
	}
	for i := 0; i < 2; i++ {
		_, ok, err := store.Pop(ctx, "acme")
		require.NoError(t, err)
		require.True(t, ok)
	}

	restarted := reopen()
	restored, err := restarted.RestoreAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, restored)

	require.Equal(t, []string{j1.ID, j2.ID, j3.ID}, ids(drain(t, restarted, "acme")))

	for _, j := range []crawler.Job{j1, j2, j3} {
		require.NoError(t, restarted.Finish(ctx, j))
	}
	again, err := restarted.RestoreAll(ctx)
	require.NoError(t, err)
	require.Zero(t, again)
}

func testGating(t *testing.T, factory Factory) {
	store, _ := factory(t)
	ctx := context.Background()

	active, err := store.IsActive(ctx)
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, store.Push(ctx, job("acme", 1)))
	size, err := store.Size(ctx, "acme")
	require.NoError(t, err)
	require.Zero(t, size)

	require.NoError(t, store.SetActive(ctx, true))
	require.NoError(t, store.Push(ctx, job("acme", 2)))
	popped, ok, err := store.Pop(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Push(ctx, job("acme", 3)))
	require.NoError(t, store.SetActive(ctx, false))

	_, ok, err = store.Pop(ctx, "acme")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, store.Restore(ctx, popped))
	require.NoError(t, store.Finish(ctx, popped))
	restored, err := store.RestoreAll(ctx)
	require.NoError(t, err)
	require.Zero(t, restored)
	assertCounts(t, store, "acme", 1, 1)
}

func testVendorPartition(t *testing.T, factory Factory) {
	store, _ := activeStore(t, factory)
	ctx := context.Background()
	require.NoError(t, store.Push(ctx, job("a", 1)))
	require.NoError(t, store.Push(ctx, job("b", 1)))
	require.NoError(t, store.Push(ctx, job("a", 2)))

	require.Equal(t, []string{"a-job-001", "a-job-002"}, ids(drain(t, store, "a")))
	require.Equal(t, []string{"b-job-001"}, ids(drain(t, store, "b")))
}

func testPeek(t *testing.T, factory Factory) {
	store, _ := activeStore(t, factory)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Push(ctx, job("acme", i)))
	}
	head, err := store.PeekHead(ctx, "acme", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"acme-job-000", "acme-job-001"}, ids(head))

	all, err := store.PeekHead(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, all, 4)

	none, err := store.PeekHead(ctx, "acme", 0)
	require.NoError(t, err)
	require.Empty(t, none)

	size, err := store.Size(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 4, size)
}

func testRoundTrip(t *testing.T, factory Factory) {
	store, _ := activeStore(t, factory)
	ctx := context.Background()
	in := crawler.Job{
		ID:     "stable-id",
		Vendor: "acme",
		Kind:   crawler.JobKindList,
		Params: map[string]string{"category": "shoes", "page": "2"},
	}
	require.NoError(t, store.Push(ctx, in))
	out, ok, err := store.Pop(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in, out)

	require.NoError(t, store.Restore(ctx, out))
	again, ok, err := store.Pop(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in, again)
}
