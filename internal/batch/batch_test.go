package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_PreservesInputOrder(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}

	// Earlier items sleep longer so completion order is reversed.
	results, err := Run(context.Background(), items, 8, func(ctx context.Context, item, index int) (string, error) {
		time.Sleep(time.Duration(len(items)-index) * 5 * time.Millisecond)
		return fmt.Sprintf("r%d", item), nil
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	for i, r := range results {
		want := fmt.Sprintf("r%d", i)
		if r != want {
			t.Errorf("results[%d] = %q, want %q", i, r, want)
		}
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	const workers = 3
	var current, peak atomic.Int32

	items := make([]int, 20)
	_, err := Run(context.Background(), items, workers, func(ctx context.Context, item, index int) (int, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
		return 0, nil
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if p := peak.Load(); p > workers {
		t.Errorf("peak concurrency = %d, want <= %d", p, workers)
	}
}

func TestRun_CollectsPartialResults(t *testing.T) {
	sentinel := errors.New("boom")
	items := []int{10, 20, 30, 40}

	results, err := Run(context.Background(), items, 2, func(ctx context.Context, item, index int) (int, error) {
		if index == 1 || index == 3 {
			return 0, sentinel
		}
		return item * 2, nil
	})
	if err == nil {
		t.Fatal("expected error for failed items")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("error %v does not wrap sentinel", err)
	}

	want := []int{20, 0, 60, 0}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %d, want %d", i, results[i], want[i])
		}
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, []int{1, 2, 3}, 2, func(ctx context.Context, item, index int) (int, error) {
		return item, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRun_Empty(t *testing.T) {
	results, err := Run(context.Background(), nil, 4, func(ctx context.Context, item, index int) (int, error) {
		return 0, nil
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}
