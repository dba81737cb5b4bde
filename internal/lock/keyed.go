package lock

import "sync"

// Keyed hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them, so idle keys cost
// nothing. Locks on different keys never contend.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed creates an empty keyed mutex.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key and returns the function that releases it.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
