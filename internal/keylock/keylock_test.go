package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSameKeySerializes(t *testing.T) {
	var l Locker[string]
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for range 10 {
		wg.Go(func() {
			unlock, err := l.Lock(context.Background(), "DET1/temp")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			defer unlock()
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
		})
	}
	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Errorf("expected at most 1 holder, saw %d", got)
	}
	if l.Len() != 0 {
		t.Errorf("expected keys to be forgotten, %d remain", l.Len())
	}
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	var l Locker[string]
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b blocked behind a: %v", err)
	}
	unlockB()
}

func TestLockRespectsContext(t *testing.T) {
	var l Locker[int]
	unlock, err := l.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	unlock()
	if l.Len() != 0 {
		t.Errorf("timed-out waiter left key behind: %d", l.Len())
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	var l Locker[string]
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}
