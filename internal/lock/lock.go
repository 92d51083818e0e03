// Package lock keeps two batch runs from processing the same records at once.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = eris.New("lock: already held")

// Locker acquires named, expiring locks without blocking.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// Local is an in-process Locker. ttl is ignored; the lock lives until released.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(_ context.Context, name string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return nil, ErrLocked
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}
