package lsm

import (
	"math"
	"sync/atomic"
)

// loadFloat64/storeFloat64 give atomic float64 semantics over an int64
// word, used for chunk_fill_ms's EWMA (spec §4.1) where a plain mutex
// would be overkill for a single word updated on every switch.
func loadFloat64(addr *int64) float64 {
	return math.Float64frombits(uint64(atomic.LoadInt64(addr)))
}

func storeFloat64(addr *int64, v float64) {
	atomic.StoreInt64(addr, int64(math.Float64bits(v)))
}
