package sync

import stdsync "sync"

// lanes hands out FIFO tickets per key. A ticket taken while the engine lock
// is held fixes the order remote writes for that key will run in.
type lanes struct {
	mu    stdsync.Mutex
	tails map[string]chan struct{}
}

func newLanes() *lanes {
	return &lanes{tails: make(map[string]chan struct{})}
}

// enter reserves the next slot on key. The caller must receive from wait (if
// non-nil) before writing and must call release exactly once.
func (l *lanes) enter(key string) (wait <-chan struct{}, release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.tails[key]
	mine := make(chan struct{})
	l.tails[key] = mine

	var once stdsync.Once
	release = func() {
		once.Do(func() {
			close(mine)
			l.mu.Lock()
			if l.tails[key] == mine {
				delete(l.tails, key)
			}
			l.mu.Unlock()
		})
	}
	return prev, release
}
