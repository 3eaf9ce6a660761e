package pin

import (
	"sync/atomic"

	"stepcore.dev/move"
)

// atomicMask is a lock-free move.EndstopMask, read from the step ISR path
// and written from the debounce goroutines.
type atomicMask struct {
	v atomic.Uint32
}

func (m *atomicMask) set(bit move.EndstopMask, on bool) {
	for {
		old := m.v.Load()
		var next uint32
		if on {
			next = old | uint32(bit)
		} else {
			next = old &^ uint32(bit)
		}
		if m.v.CompareAndSwap(old, next) {
			return
		}
	}
}

func (m *atomicMask) load() move.EndstopMask {
	return move.EndstopMask(m.v.Load())
}
