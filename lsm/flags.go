package lsm

// TreeFlag mirrors WT_LSM_TREE_{ACTIVE,COMPACTING,NEED_SWITCH,OPEN,THROTTLE}.
// Tree.flags is read and updated with atomic operations (hasFlag, setFlag,
// clearFlag), so callers need not hold Tree.mu to inspect or change it.
type TreeFlag uint32

const (
	TreeActive TreeFlag = 1 << iota
	TreeCompacting
	TreeNeedSwitch
	TreeOpen
	TreeThrottle
)

// TreeFlagAtomic mirrors WT_LSM_TREE_EXCLUSIVE. Tracked separately from
// TreeFlag because it must be readable without the tree lock (open/close
// races); acquire/release semantics on this single bit resolve open
// question (1) in spec §9.
type TreeFlagAtomic uint32

const (
	TreeExclusive TreeFlagAtomic = 1 << iota
)

// CursorFlag are the downstream cursor flag bits from spec §6.
type CursorFlag uint32

const (
	IterateNext CursorFlag = 1 << iota
	IteratePrev
	CursorMerge
	CursorMinorMerge
	CursorMultiple
	OpenRead
	OpenSnapshot
	CursorActive
)
