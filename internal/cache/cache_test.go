package cache

import (
	"errors"
	"testing"
	"time"
)

func TestRememberComputesOnce(t *testing.T) {
	c := New()

	calls := 0
	compute := func() ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Remember(c, WindowKey(7), time.Minute, compute)
		if err != nil {
			t.Fatalf("remember: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("unexpected value: %v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 compute call, got %d", calls)
	}
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	c := New()

	calls := 0
	fail := errors.New("boom")
	compute := func() (int, error) {
		calls++
		if calls == 1 {
			return 0, fail
		}
		return 42, nil
	}

	if _, err := Remember(c, "k", time.Minute, compute); !errors.Is(err, fail) {
		t.Fatalf("expected compute error, got %v", err)
	}
	got, err := Remember(c, "k", time.Minute, compute)
	if err != nil {
		t.Fatalf("remember after error: %v", err)
	}
	if got != 42 || calls != 2 {
		t.Fatalf("expected recompute after error, got %d (calls=%d)", got, calls)
	}
}

func TestRememberExpires(t *testing.T) {
	c := New()

	calls := 0
	compute := func() (string, error) {
		calls++
		return "v", nil
	}

	if _, err := Remember(c, "k", 10*time.Millisecond, compute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := Remember(c, "k", 10*time.Millisecond, compute); err != nil {
		t.Fatalf("remember after expiry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected recompute after TTL, got %d calls", calls)
	}
}

func TestFlushForcesRecompute(t *testing.T) {
	c := New()

	calls := 0
	compute := func() (int, error) {
		calls++
		return calls, nil
	}

	if _, err := Remember(c, WindowKey(1), time.Hour, compute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if _, err := Remember(c, WindowKey(30), time.Hour, compute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}

	c.Flush()

	if c.Len() != 0 {
		t.Fatalf("expected empty cache after flush, got %d entries", c.Len())
	}
	got, err := Remember(c, WindowKey(1), time.Hour, compute)
	if err != nil {
		t.Fatalf("remember after flush: %v", err)
	}
	if got != 3 || calls != 3 {
		t.Fatalf("expected recompute after flush, got %d (calls=%d)", got, calls)
	}
}
