package concurrent

import (
	"sync"

	"golang.org/x/sys/cpu"
)

// cacheLinePad reserves enough trailing bytes that two consecutive
// ThreadQueue values never share a cache line, preventing the false sharing
// spec §4.9 calls out ("padded to its own cache line").
type cacheLinePad [cpu.CacheLinePadSize]byte

// ThreadQueue is a bounded, mutex-guarded double-ended queue of DynamicTask
// values: workers pop from the head, and a work-stealing peer may pop from
// the tail when a task's CanBeStolen flag allows it (spec §4.9).
type ThreadQueue struct {
	mu    sync.Mutex
	tasks []DynamicTask
	cap   int
	_     cacheLinePad
}

// NewThreadQueue returns an empty queue bounded at capacity tasks.
func NewThreadQueue(capacity int) *ThreadQueue {
	return &ThreadQueue{tasks: make([]DynamicTask, 0, capacity), cap: capacity}
}

// Push appends a task at the tail, failing if the queue is at capacity.
func (q *ThreadQueue) Push(t DynamicTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) >= q.cap {
		return false
	}
	q.tasks = append(q.tasks, t)
	return true
}

// PopFront removes and returns the head task (FIFO order for the owning
// worker).
func (q *ThreadQueue) PopFront() (DynamicTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return DynamicTask{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// StealTail removes and returns the tail task if it is stealable, used by a
// peer worker scanning for work (spec §4.9 Steal wait policy).
func (q *ThreadQueue) StealTail() (DynamicTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	if n == 0 {
		return DynamicTask{}, false
	}
	last := q.tasks[n-1]
	if !last.CanBeStolen {
		return DynamicTask{}, false
	}
	q.tasks = q.tasks[:n-1]
	return last, true
}

// Len reports the number of queued tasks.
func (q *ThreadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
