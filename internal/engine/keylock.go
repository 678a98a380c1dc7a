package engine

import "sync"

// KeyLock provides in-process per-key mutual exclusion with a non-blocking
// acquire. The scheduler uses it so a position still mid-evaluation from a
// previous tick is skipped rather than evaluated concurrently.
type KeyLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyLock() *KeyLock {
	return &KeyLock{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for key if it is free and returns the release
// func. Returns (nil, false) when the key is already held.
func (l *KeyLock) TryAcquire(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, false
	}
	l.held[key] = struct{}{}
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, true
}

// Held reports whether key is currently locked.
func (l *KeyLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
