package task

import "sync"

// KeyLocks serializes read-modify-write sequences per task id.
//
// Entries are reference counted and dropped when the last holder unlocks, so the
// map never grows beyond the set of ids currently being written.
type KeyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until id is free and returns its unlock func.
func (k *KeyLocks) Lock(id string) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*keyLock)
	}
	l := k.m[id]
	if l == nil {
		l = &keyLock{}
		k.m[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.m, id)
			}
			k.mu.Unlock()
		})
	}
}
