package booking

import (
	"context"
	"sync"
)

// keyedMutex serializes callers sharing a key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	token chan struct{}
	refs  int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free or ctx is done. The returned func releases the key.
func (mutex *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	mutex.mu.Lock()
	lock, ok := mutex.locks[key]
	if !ok {
		lock = &keyedLock{token: make(chan struct{}, 1)}
		mutex.locks[key] = lock
	}
	lock.refs++
	mutex.mu.Unlock()

	select {
	case lock.token <- struct{}{}:
		return func() {
			<-lock.token
			mutex.release(key, lock)
		}, nil
	case <-ctx.Done():
		mutex.release(key, lock)
		return nil, ctx.Err()
	}
}

func (mutex *keyedMutex) release(key string, lock *keyedLock) {
	mutex.mu.Lock()
	defer mutex.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(mutex.locks, key)
	}
}

func slotKey(roomID RoomID, day Day) string {
	return roomID.String() + "@" + day.String()
}
