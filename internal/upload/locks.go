package upload

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes chunk application per session id. Two concurrent
// submissions for the same session must not both observe the same offset
// and both append, so the lock is held across the read-offset, append,
// write-offset sequence.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{
		locks: make(map[uuid.UUID]*sessionLock),
	}
}

// acquire blocks until the session lock is held and returns the release
// function. Lock entries are reference-counted and removed once unused,
// so the map does not grow with session churn.
func (sl *sessionLocks) acquire(id uuid.UUID) func() {
	sl.mu.Lock()
	lock, ok := sl.locks[id]
	if !ok {
		lock = &sessionLock{}
		sl.locks[id] = lock
	}
	lock.refs++
	sl.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		sl.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(sl.locks, id)
		}
		sl.mu.Unlock()
	}
}
