package chat

import "sync"

// userLocks serializes per-user critical sections. Admission checks and the
// follow-up event writes for one identity must not interleave, otherwise two
// concurrent messages could both be admitted when only one slot remains.
// Different users never contend on the same mutex. Entries are reference
// counted and removed once the last holder releases, so the map stays
// bounded by the number of in-flight messages rather than every identity
// ever seen.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*userLock)}
}

// lock acquires the mutex for the given user and returns its unlock func.
func (u *userLocks) lock(telegramID int64) func() {
	u.mu.Lock()
	l, ok := u.locks[telegramID]
	if !ok {
		l = &userLock{}
		u.locks[telegramID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, telegramID)
		}
		u.mu.Unlock()
	}
}
