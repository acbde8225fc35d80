package workflow

import (
	"context"
	"sync"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/utils"
)

// KeyedLocker serializes mutations per key across whatever scope it covers.
type KeyedLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// RedisLocker serializes across instances through redislock.
type RedisLocker struct {
	LockType string
}

func (l RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	return utils.KeyLock(ctx, l.LockType, key, "locker.go", "RedisLocker.Lock")
}

// LocalLocker serializes within the process only.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

type keyedMutex struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*keyedMutex{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &keyedMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, m, false)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, m, true) })
	}, nil
}

func (l *LocalLocker) release(key string, m *keyedMutex, held bool) {
	if held {
		<-m.ch
	}
	l.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// DefaultLocker uses redis once it is connected and falls back to the
// in-process locker before that.
type DefaultLocker struct {
	Redis KeyedLocker
	Local KeyedLocker
}

func NewDefaultLocker(lockType string) *DefaultLocker {
	return &DefaultLocker{Redis: RedisLocker{LockType: lockType}, Local: NewLocalLocker()}
}

func (l *DefaultLocker) Lock(ctx context.Context, key string) (func(), error) {
	if config.GetRedisLock() != nil {
		return l.Redis.Lock(ctx, key)
	}
	return l.Local.Lock(ctx, key)
}
