package lock

import (
	"context"
	"sync"
)

// localLocker is an in-process keyed mutex for single-instance deployments and tests.
type localLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns a Locker scoped to the current process.
func NewLocal() Locker {
	return &localLocker{slots: make(map[string]*slot)}
}

func (l *localLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
		return nil
	}, nil
}

// release drops a reference and forgets idle keys so the map does not grow with the user base.
func (l *localLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
