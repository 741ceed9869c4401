package dispatch

import "sync"

// taskQueue is an unbounded multi-producer FIFO. Append is safe from any
// goroutine; pollOne is called by the worker only; drainAll atomically removes
// everything currently queued (used by Stop). An item appended concurrently
// with a drain is either captured by it or stays queued for a later
// poll/drain; it is never lost.
type taskQueue struct {
	mu    sync.Mutex
	items []Task
}

func newTaskQueue() *taskQueue { return &taskQueue{} }

func (q *taskQueue) append(t Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

func (q *taskQueue) pollOne() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Task{}, false
	}
	t := q.items[0]
	q.items[0] = Task{} // let the backing array release the closure
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return t, true
}

func (q *taskQueue) drainAll() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
