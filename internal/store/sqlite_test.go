package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"netpulse/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "netpulse.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustAppend(t *testing.T, st Store, r Record) int64 {
	t.Helper()
	id, err := st.Append(context.Background(), r)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return id
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	st := openTestStore(t)

	var prev int64
	for i := 0; i < 3; i++ {
		id := mustAppend(t, st, Record{PingMs: 10, Download: 100, Upload: 20})
		if id <= prev {
			t.Fatalf("expected monotonically increasing ids, got %d after %d", id, prev)
		}
		prev = id
	}
}

func TestListNewestFirstWithTotal(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		mustAppend(t, st, Record{CreatedAt: now.Add(time.Duration(i) * time.Minute), PingMs: float64(i)})
	}

	page, total, err := st.List(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 records on page 1, got %d", len(page))
	}
	if page[0].PingMs != 4 {
		t.Fatalf("expected newest record first, got ping=%v", page[0].PingMs)
	}

	page2, _, err := st.List(context.Background(), 2, 3)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("expected 2 records on page 2, got %d", len(page2))
	}
}

func TestWindowFiltersAndOrders(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()

	// Three records in the last 2 days: pings 10, 20 and one failed run.
	mustAppend(t, st, Record{CreatedAt: now.Add(-36 * time.Hour), PingMs: 10, Download: 100, Upload: 10})
	mustAppend(t, st, Record{CreatedAt: now.Add(-12 * time.Hour), PingMs: 20, Download: 200, Upload: 20})
	mustAppend(t, st, Record{CreatedAt: now.Add(-1 * time.Hour), Failed: true})
	// Outside the window.
	mustAppend(t, st, Record{CreatedAt: now.Add(-72 * time.Hour), PingMs: 99})

	got, err := st.Window(context.Background(), 2, true)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 successful records in window, got %d", len(got))
	}
	if got[0].PingMs != 10 || got[1].PingMs != 20 {
		t.Fatalf("expected oldest-first pings [10 20], got [%v %v]", got[0].PingMs, got[1].PingMs)
	}

	all, err := st.Window(context.Background(), 2, false)
	if err != nil {
		t.Fatalf("window all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records including the failed run, got %d", len(all))
	}
}

func TestAggregateEmptyAndPopulated(t *testing.T) {
	st := openTestStore(t)

	if _, ok, err := st.Aggregate(context.Background(), AggAvg); err != nil || ok {
		t.Fatalf("expected no-data aggregate on empty store, ok=%v err=%v", ok, err)
	}

	// Failed records must not contribute to aggregates.
	mustAppend(t, st, Record{Failed: true})
	if _, ok, err := st.Aggregate(context.Background(), AggMax); err != nil || ok {
		t.Fatalf("expected no-data aggregate with only failed records, ok=%v err=%v", ok, err)
	}

	mustAppend(t, st, Record{PingMs: 10, Download: 100, Upload: 10})
	mustAppend(t, st, Record{PingMs: 30, Download: 300, Upload: 20})

	avg, ok, err := st.Aggregate(context.Background(), AggAvg)
	if err != nil || !ok {
		t.Fatalf("avg aggregate: ok=%v err=%v", ok, err)
	}
	if avg.PingMs != 20 || avg.Download != 200 || avg.Upload != 15 {
		t.Fatalf("unexpected averages: %+v", avg)
	}

	max, ok, err := st.Aggregate(context.Background(), AggMax)
	if err != nil || !ok {
		t.Fatalf("max aggregate: ok=%v err=%v", ok, err)
	}
	if max.PingMs != 30 || max.Download != 300 || max.Upload != 20 {
		t.Fatalf("unexpected maxima: %+v", max)
	}
}

func TestLatestSuccessfulSkipsFailures(t *testing.T) {
	st := openTestStore(t)
	now := time.Now()

	if _, ok, err := st.LatestSuccessful(context.Background()); err != nil || ok {
		t.Fatalf("expected no latest on empty store, ok=%v err=%v", ok, err)
	}

	mustAppend(t, st, Record{CreatedAt: now.Add(-2 * time.Hour), PingMs: 12})
	mustAppend(t, st, Record{CreatedAt: now.Add(-1 * time.Hour), Failed: true})

	latest, ok, err := st.LatestSuccessful(context.Background())
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.PingMs != 12 || latest.Failed {
		t.Fatalf("expected the successful record, got %+v", latest)
	}
}

func TestDeleteAllAndByID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id := mustAppend(t, st, Record{PingMs: 1})
	mustAppend(t, st, Record{PingMs: 2})

	if err := st.DeleteByID(ctx, id); err != nil {
		t.Fatalf("delete by id: %v", err)
	}
	if err := st.DeleteByID(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	n, err := st.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 record deleted, got %d", n)
	}

	recs, total, err := st.List(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if total != 0 || len(recs) != 0 {
		t.Fatalf("expected empty store, got total=%d len=%d", total, len(recs))
	}
	if _, ok, _ := st.LatestSuccessful(ctx); ok {
		t.Fatalf("expected no latest after delete all")
	}
}

func TestConcurrentAppends(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.Append(ctx, Record{PingMs: float64(i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	total, err := st.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != n {
		t.Fatalf("expected %d records, got %d", n, total)
	}
}
