// ABOUTME: Per-conversation keyed mutex serializing the append path
// ABOUTME: Reference counted so idle conversations hold no memory

package delivery

import "sync"

// convLocks hands out one mutex per conversation ID. Entries are reference
// counted and removed once the last holder releases.
type convLocks struct {
	mu    sync.Mutex
	locks map[int64]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{locks: make(map[int64]*convLock)}
}

// lock acquires the mutex for id and returns its release func.
func (c *convLocks) lock(id int64) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &convLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}
