// Package keymutex provides per-key mutual exclusion. The pool and the
// workflow engine use it to serialize read-modify-write sequences on a
// single entity while letting mutations of distinct entities proceed in
// parallel.
package keymutex

import "sync"

// KeyMutex serializes critical sections per key. The zero value is not
// usable; call New.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an empty KeyMutex.
func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyMutex) Lock(key string) {
	k.mutexFor(key).Lock()
}

// Unlock releases the mutex for key.
func (k *KeyMutex) Unlock(key string) {
	k.mutexFor(key).Unlock()
}

// Forget drops the mutex for key. Callers must ensure no holder remains.
func (k *KeyMutex) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.locks, key)
}

// Len returns the number of tracked keys.
func (k *KeyMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (k *KeyMutex) mutexFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
