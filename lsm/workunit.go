package lsm

import (
	"time"

	"github.com/google/uuid"
)

// WorkKind identifies the type of maintenance a unit requests, matching
// WT_LSM_WORK_{SWITCH,FLUSH,BLOOM,MERGE,DROP,FORCE}.
type WorkKind uint32

const (
	WorkSwitch WorkKind = 1 << iota
	WorkFlush
	WorkBloom
	WorkMerge
	WorkDrop
	// WorkForce is a modifier, not a queue selector: it marks a SWITCH or
	// FLUSH unit as application- or compact-requested, to run regardless of
	// size (spec §2 item 4). Tree.requestSwitch sets it on SWITCH units.
	WorkForce
)

func (k WorkKind) String() string {
	switch {
	case k&WorkSwitch != 0:
		return "switch"
	case k&WorkFlush != 0:
		return "flush"
	case k&WorkBloom != 0:
		return "bloom"
	case k&WorkMerge != 0:
		return "merge"
	case k&WorkDrop != 0:
		return "drop"
	default:
		return "unknown"
	}
}

// queueFor routes a unit's kind to the queue it belongs on, per spec §4.2:
// switch has its own queue so it never waits behind a merge; flush/bloom/
// drop share the application queue; merge sits alone on the manager queue.
func (k WorkKind) queueFor() queueKind {
	switch {
	case k&WorkSwitch != 0:
		return queueSwitch
	case k&WorkMerge != 0:
		return queueManager
	default:
		return queueApplication
	}
}

type queueKind int

const (
	queueSwitch queueKind = iota
	queueApplication
	queueManager
)

func (q queueKind) String() string {
	switch q {
	case queueSwitch:
		return "switch"
	case queueApplication:
		return "application"
	case queueManager:
		return "manager"
	default:
		return "unknown"
	}
}

// workUnit is a typed maintenance request bound to one tree (spec §2
// item 4). id exists purely to disambiguate concurrently-processed units
// for the same tree in logs and metrics.
type workUnit struct {
	id         uuid.UUID
	kind       WorkKind
	tree       *Tree
	chunk      *chunk   // single-chunk target for FLUSH/BLOOM units
	run        []*chunk // pre-selected merge run, nil for non-merge units
	enqueuedAt time.Time
	attempt    int
}

func newWorkUnit(kind WorkKind, tree *Tree) *workUnit {
	return &workUnit{
		id:         uuid.New(),
		kind:       kind,
		tree:       tree,
		enqueuedAt: time.Now(),
	}
}

// isForce reports whether WorkForce is OR'd into this unit's kind, marking
// an application- or compact-requested switch/flush regardless of size.
func (u *workUnit) isForce() bool {
	return u.kind&WorkForce != 0
}

func newChunkWorkUnit(kind WorkKind, tree *Tree, c *chunk) *workUnit {
	u := newWorkUnit(kind, tree)
	u.chunk = c
	return u
}
