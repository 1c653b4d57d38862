package turn

import "sync"

// executor runs queued functions one at a time on whichever goroutine finds
// it idle. Functions added while it is draining run on the draining goroutine.
type executor struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

func (e *executor) add(fns ...func()) {
	if len(fns) == 0 {
		return
	}
	e.mu.Lock()
	e.queue = append(e.queue, fns...)
	e.mu.Unlock()
}

// run drains the queue through exec and reports whether this goroutine did
// the draining. It returns false at once if another drain is in progress.
func (e *executor) run(exec func(func())) bool {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return false
	}
	e.draining = true
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.mu.Unlock()
			return true
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		exec(fn)
	}
}
