package lsm

import "sync"

// workQueue is one of the three FIFO queues from spec §4.2. Each has its
// own lock ("spinlock" in the design notes; a sync.Mutex is the idiomatic
// Go equivalent under normal contention). push is non-blocking; pop
// returns ok=false immediately if the queue is empty rather than waiting
// (waiting is the worker loop's job, via the manager's condition
// variable).
type workQueue struct {
	mu       sync.Mutex
	units    []*workUnit
	pushedAt int64 // last work_push_ts, unix nanos
}

func newWorkQueue() *workQueue {
	return &workQueue{}
}

func (q *workQueue) push(u *workUnit) {
	q.mu.Lock()
	q.units = append(q.units, u)
	q.pushedAt = u.enqueuedAt.UnixNano()
	q.mu.Unlock()
}

func (q *workQueue) pop() (*workUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.units) == 0 {
		return nil, false
	}
	u := q.units[0]
	q.units = q.units[1:]
	return u, true
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// drop empties the queue without executing any unit, used by
// worker_stop (Manager.Stop). Per-tree cancellation uses dropForTree
// instead (spec §5 Cancellation).
func (q *workQueue) drop() []*workUnit {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := q.units
	q.units = nil
	return dropped
}

// dropForTree removes only units belonging to tree, leaving others in
// FIFO order.
func (q *workQueue) dropForTree(tree *Tree) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.units[:0]
	for _, u := range q.units {
		if u.tree != tree {
			kept = append(kept, u)
		}
	}
	q.units = kept
}
