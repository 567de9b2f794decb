package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrLockTimeout = errors.New("lock wait timed out")

// Locker serializes work on a key across callers.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SubjectKey is the lock key guarding one subject's episode.
func SubjectKey(subjectID string) string {
	return "caseflow:subject:" + subjectID
}

// Memory is an in-process keyed mutex.
type Memory struct {
	// Wait bounds how long Acquire blocks. Zero waits for ctx only.
	Wait time.Duration

	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewMemory(wait time.Duration) *Memory {
	return &Memory{Wait: wait, held: map[string]chan struct{}{}}
}

func (m *Memory) Acquire(ctx context.Context, key string) (func(), error) {
	if m.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Wait)
		defer cancel()
	}
	for {
		m.mu.Lock()
		if m.held == nil {
			m.held = map[string]chan struct{}{}
		}
		ch, busy := m.held[key]
		if !busy {
			ch = make(chan struct{})
			m.held[key] = ch
			m.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.held, key)
					m.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
	}
}
