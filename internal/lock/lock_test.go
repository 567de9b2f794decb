package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemorySerializesSameKey(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, SubjectKey("s1"))
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected exclusive access, peak=%d", peak)
	}
}

func TestMemoryIndependentKeys(t *testing.T) {
	m := NewMemory(50 * time.Millisecond)
	ctx := context.Background()
	r1, err := m.Acquire(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer r1()
	r2, err := m.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("other key should not block: %v", err)
	}
	r2()
}

func TestMemoryTimeout(t *testing.T) {
	m := NewMemory(20 * time.Millisecond)
	ctx := context.Background()
	release, err := m.Acquire(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire(ctx, "k"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	release()
	release()
	again, err := m.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestRedisLockerRequiresClient(t *testing.T) {
	r := NewRedis(nil, time.Second, time.Second)
	if _, err := r.Acquire(context.Background(), "k"); err == nil {
		t.Fatalf("expected nil client error")
	}
	if releaseScript == nil {
		t.Fatalf("expected release script to be initialized")
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected addr error")
	}
}
