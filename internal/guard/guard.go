// Package guard serializes heavy operations per requester: a second
// operation cannot start while one is in flight for the same id. Busy is a
// normal signal, not an error.
package guard

import "sync"

type Guard struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

func New() *Guard {
	return &Guard{active: make(map[int64]struct{})}
}

// TryAcquire sets the in-flight flag for id. It returns false if the flag is
// already set; the caller must then perform no further work.
func (g *Guard) TryAcquire(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[id]; busy {
		return false
	}
	g.active[id] = struct{}{}
	return true
}

// Release clears the flag. Callers pair a successful TryAcquire with a
// deferred Release so the flag is never leaked on any exit path.
func (g *Guard) Release(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
}
