package lsm

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// worker is a flag-filtered consumer that pops the highest-priority
// allowed queue and executes the unit (spec §4.2 "Worker loop"). A
// worker never holds a queue lock while executing a unit, and it
// executes at most one unit per iteration.
type worker struct {
	id      int
	mask    WorkKind
	manager *Manager
}

func newWorker(id int, mask WorkKind, m *Manager) *worker {
	return &worker{id: id, mask: mask, manager: m}
}

func (w *worker) servicesSwitch() bool { return w.mask&WorkSwitch != 0 }
func (w *worker) servicesApp() bool    { return w.mask&(WorkFlush|WorkBloom|WorkDrop) != 0 }
func (w *worker) servicesMerge() bool  { return w.mask&WorkMerge != 0 }

func (w *worker) loop() {
	m := w.manager
	for m.Active() {
		u, ok := w.tryPop()
		if !ok {
			w.parkOnCond()
			continue
		}

		if !u.tree.Active() {
			// spec §5 Cancellation: the tree went inactive under us; drop
			// the unit without executing it.
			continue
		}

		w.execute(u)
	}
}

func (w *worker) tryPop() (*workUnit, bool) {
	m := w.manager
	if w.servicesSwitch() {
		if u, ok := m.switchQ.pop(); ok {
			return u, true
		}
	}
	if w.servicesApp() {
		if u, ok := m.appQ.pop(); ok {
			return u, true
		}
	}
	if w.servicesMerge() {
		if u, ok := m.mgrQ.pop(); ok {
			return u, true
		}
	}
	return nil, false
}

func (w *worker) parkOnCond() {
	m := w.manager
	if w.servicesMerge() {
		atomic.AddInt32(&m.mergeIdle, 1)
		if m.metrics != nil {
			m.metrics.MergeIdleWorkers.Set(float64(m.MergeIdle()))
		}
		defer atomic.AddInt32(&m.mergeIdle, -1)
	}

	m.mu.Lock()
	timer := time.AfterFunc(m.idleWait, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	m.cond.Wait()
	timer.Stop()
	m.mu.Unlock()
}

// execute dispatches one unit and applies the transient-error retry
// policy described in SPEC_FULL.md §4.2: a real backoff.ExponentialBackOff
// rather than a hand-rolled sleep loop.
func (w *worker) execute(u *workUnit) {
	m := w.manager
	if m.metrics != nil {
		m.metrics.WorkerBusy.WithLabelValues(u.kind.String()).Inc()
		defer m.metrics.WorkerBusy.WithLabelValues(u.kind.String()).Dec()
	}

	err := w.runOnce(u)
	if err == nil {
		return
	}

	if errors.Is(err, ErrShutdown) {
		return
	}

	if !IsTransient(err) {
		w.manager.logger.WithError(err).
			WithField("kind", u.kind.String()).
			WithField("tree", u.tree.name).
			WithField("unit_id", u.id).
			Error("lsm work unit failed permanently")
		if m.metrics != nil {
			m.metrics.WorkErrors.WithLabelValues(u.kind.String()).Inc()
		}
		u.tree.disableWork(u.kind)
		return
	}

	// Transient: re-queue with backoff rather than blocking this worker.
	u.attempt++
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.Reset() // start from InitialInterval as set above
	var delay time.Duration
	for i := 0; i < u.attempt; i++ {
		delay = bo.NextBackOff()
	}

	w.manager.logger.WithError(err).
		WithField("kind", u.kind.String()).
		WithField("unit_id", u.id).
		WithField("attempt", u.attempt).
		WithField("retry_in", delay).
		Warn("lsm work unit failed transiently, requeueing")

	if m.metrics != nil {
		m.metrics.WorkErrors.WithLabelValues(u.kind.String()).Inc()
	}

	go func() {
		time.Sleep(delay)
		if m.Active() && u.tree.Active() {
			m.push(u)
		}
	}()
}

func (w *worker) runOnce(u *workUnit) error {
	t := u.tree
	switch {
	case u.kind&WorkSwitch != 0:
		return t.performSwitch(u.isForce())
	case u.kind&WorkFlush != 0:
		return t.performFlush(u.chunk, u.isForce())
	case u.kind&WorkBloom != 0:
		return t.performBloom(u.chunk)
	case u.kind&WorkMerge != 0:
		return t.performMerge(u.run)
	case u.kind&WorkDrop != 0:
		return t.performDrop()
	default:
		return nil
	}
}
