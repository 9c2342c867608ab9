package cache

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process TryLock for deployments without Redis.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
	seq  uint64
}

type localLease struct {
	id      uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLease), now: time.Now}
}

// TryLock mirrors RedisStore.TryLock, including expiry of abandoned locks.
func (l *LocalLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[name]; ok && now.Before(lease.expires) {
		return nil, false, nil
	}
	l.seq++
	id := l.seq
	l.held[name] = localLease{id: id, expires: now.Add(ttl)}

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[name]; ok && lease.id == id {
			delete(l.held, name)
		}
		return nil
	}
	return unlock, true, nil
}
