package content

import (
	"sync"

	"charasync/internal/domain"
)

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per content hash and forgets it once no
// caller holds or waits on it.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[domain.ContentHash]*keyedEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[domain.ContentHash]*keyedEntry)}
}

func (k *keyedMutex) lock(hash domain.ContentHash) func() {
	k.mu.Lock()
	e, ok := k.entries[hash]
	if !ok {
		e = &keyedEntry{}
		k.entries[hash] = e
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
				delete(k.entries, hash)
			}
			k.mu.Unlock()
		})
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
