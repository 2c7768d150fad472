package lsm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns the three work queues, the worker pool and the condition
// variable that wakes workers when work is queued (spec §2 item 6). One
// Manager can service many trees; WithManager lets several trees share a
// pool the way a single embedding database shares LSM workers across all
// of its LSM-backed collections.
type Manager struct {
	logger  logrus.FieldLogger
	metrics *Metrics

	switchQ *workQueue
	appQ    *workQueue
	mgrQ    *workQueue

	cond *sync.Cond
	mu   *sync.Mutex

	workers      []*worker
	mergeIdle    int32 // atomic, count of MERGE-capable workers parked on cond
	active       atomic.Bool
	idleWait     time.Duration
	mergeThreads uint

	wg sync.WaitGroup
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

func WithManagerLogger(l logrus.FieldLogger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func WithManagerMetrics(mx *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

func WithIdleWait(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleWait = d }
}

// NewManager builds and starts a worker pool. workersMax caps total
// workers (spec §4.2 "lsm_workers_max"); mergeThreads of them carry
// MERGE. At least one worker always carries SWITCH+FLUSH+BLOOM+DROP, the
// deadlock-avoidance invariant from spec §4.2 and design note "Worker
// pool composition".
func NewManager(workersMax, mergeThreads uint, opts ...ManagerOption) *Manager {
	if workersMax < 1 {
		workersMax = 1
	}
	if mergeThreads >= workersMax {
		mergeThreads = workersMax - 1
	}

	mu := &sync.Mutex{}
	m := &Manager{
		logger:       logrus.StandardLogger(),
		metrics:      noopMetrics(),
		switchQ:      newWorkQueue(),
		appQ:         newWorkQueue(),
		mgrQ:         newWorkQueue(),
		mu:           mu,
		cond:         sync.NewCond(mu),
		idleWait:     200 * time.Millisecond,
		mergeThreads: mergeThreads,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.active.Store(true)

	generalMask := WorkSwitch | WorkFlush | WorkBloom | WorkDrop
	m.workers = append(m.workers, newWorker(0, generalMask, m))

	for i := uint(0); i < mergeThreads; i++ {
		m.workers = append(m.workers, newWorker(int(i)+1, WorkMerge, m))
	}

	for i := uint(len(m.workers)); i < workersMax; i++ {
		m.workers = append(m.workers, newWorker(int(i), generalMask, m))
	}

	for _, w := range m.workers {
		m.wg.Add(1)
		go func(w *worker) {
			defer m.wg.Done()
			w.loop()
		}(w)
	}

	return m
}

func (m *Manager) queueFor(k queueKind) *workQueue {
	switch k {
	case queueSwitch:
		return m.switchQ
	case queueManager:
		return m.mgrQ
	default:
		return m.appQ
	}
}

// push enqueues a unit and wakes any worker parked on the condition
// variable. Non-blocking, per spec §4.2 "Enqueue".
func (m *Manager) push(u *workUnit) {
	q := m.queueFor(u.kind.queueFor())
	q.push(u)
	if m.metrics != nil {
		m.metrics.QueueDepth.WithLabelValues(u.kind.queueFor().String()).Set(float64(q.len()))
	}

	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Manager) Active() bool { return m.active.Load() }

// Stop clears ACTIVE, wakes every worker and joins them (spec §4.2
// "Shutdown"). Any in-flight unit completes; remaining queued units are
// dropped without execution.
func (m *Manager) Stop() {
	if !m.active.CompareAndSwap(true, false) {
		return
	}

	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()

	m.wg.Wait()

	m.switchQ.drop()
	m.appQ.drop()
	m.mgrQ.drop()
}

// DropTree discards every queued unit belonging to tree without
// executing them, used when a single tree (not the whole manager) goes
// inactive.
func (m *Manager) DropTree(tree *Tree) {
	m.switchQ.dropForTree(tree)
	m.appQ.dropForTree(tree)
	m.mgrQ.dropForTree(tree)
}

func (m *Manager) MergeIdle() int32 {
	return atomic.LoadInt32(&m.mergeIdle)
}

func (m *Manager) QueueDepths() (switchN, appN, mgrN int) {
	return m.switchQ.len(), m.appQ.len(), m.mgrQ.len()
}
