package memorybank

import "sync"

// Locker is the advisory per-key lock capability guarding read-modify-
// write sequences on a scope's resources.
//
// Call sites always acquire and release; how much exclusion that buys is
// an implementation choice. The single-tenant deployment uses NopLocker,
// while shared deployments select MutexLocker (or a distributed lock
// satisfying this interface) at construction time.
type Locker interface {
	// Acquire takes the lock for a key and returns its release func.
	Acquire(key string) (release func())
}

// NopLocker is an always-granted lock for single-tenant deployments.
type NopLocker struct{}

// Acquire grants immediately.
func (NopLocker) Acquire(string) func() {
	return func() {}
}

// MutexLocker provides real mutual exclusion with one mutex per key.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMutexLocker creates a MutexLocker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the key's mutex is held and returns its unlock.
func (l *MutexLocker) Acquire(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
