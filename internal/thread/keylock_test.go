package thread

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("user")
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", got)
	}
	if k.Len() != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", k.Len())
	}
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyedMutex()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on key b blocked behind key a")
	}
}
