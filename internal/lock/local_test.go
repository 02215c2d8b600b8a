package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "user:1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			_ = unlock(ctx)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA(ctx)

	tctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(tctx, "b")
	if err != nil {
		t.Fatalf("Lock b blocked by a: %v", err)
	}
	_ = unlockB(ctx)
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(tctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock err = %v, want deadline exceeded", err)
	}

	_ = unlock(ctx)
	// Double unlock is harmless.
	_ = unlock(ctx)

	unlock2, err := l.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	_ = unlock2(ctx)

	ll := l.(*localLocker)
	if len(ll.slots) != 0 {
		t.Errorf("slots = %d, want 0 after all releases", len(ll.slots))
	}
}
