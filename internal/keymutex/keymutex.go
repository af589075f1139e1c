// Package keymutex provides an arena of mutexes indexed by string key.
package keymutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Arena hands out one mutex per key. Entries are created on first use and
// dropped once no caller holds or waits on them.
type Arena struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Arena {
	return &Arena{entries: make(map[string]*entry)}
}

// Lock blocks until the caller owns key and returns the matching unlock.
// Calling unlock more than once is a no-op.
func (a *Arena) Lock(key string) (unlock func()) {
	a.mu.Lock()
	e, ok := a.entries[key]
	if !ok {
		e = &entry{}
		a.entries[key] = e
	}
	e.refs++
	a.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			a.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(a.entries, key)
			}
			a.mu.Unlock()
		})
	}
}

// Len reports how many keys are currently held or waited on.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
