package hostloop

import (
	"sync/atomic"
)

// Stats is a snapshot of reactor counters, see [Reactor.Stats].
//
// Counters are updated with atomic operations and may be read from any
// goroutine.
type Stats struct {
	// Iterations is the number of completed RunIteration calls.
	Iterations uint64
	// BlockingWaits is the number of adapter waits with a non-zero timeout,
	// i.e. the waits that released the global lock.
	BlockingWaits uint64
	// WaitFailures is the number of failed blocking waits.
	WaitFailures uint64
	// FDDispatches is the number of descriptor handler callbacks invoked.
	FDDispatches uint64
	// TimersFired is the number of timer callbacks invoked.
	TimersFired uint64
	// BottomHalvesRun is the number of bottom half callbacks invoked.
	BottomHalvesRun uint64
	// SignalsDelivered is the number of signal records dispatched.
	SignalsDelivered uint64
	// WaitObjectsSignalled is the number of wait object callbacks invoked.
	WaitObjectsSignalled uint64
	// PollingShortCircuits is the number of hybrid waits skipped because a
	// polling callback reported work.
	PollingShortCircuits uint64
}

type stats struct {
	iterations           atomic.Uint64
	blockingWaits        atomic.Uint64
	waitFailures         atomic.Uint64
	fdDispatches         atomic.Uint64
	timersFired          atomic.Uint64
	bottomHalvesRun      atomic.Uint64
	signalsDelivered     atomic.Uint64
	waitObjectsSignalled atomic.Uint64
	pollingShortCircuits atomic.Uint64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Iterations:           s.iterations.Load(),
		BlockingWaits:        s.blockingWaits.Load(),
		WaitFailures:         s.waitFailures.Load(),
		FDDispatches:         s.fdDispatches.Load(),
		TimersFired:          s.timersFired.Load(),
		BottomHalvesRun:      s.bottomHalvesRun.Load(),
		SignalsDelivered:     s.signalsDelivered.Load(),
		WaitObjectsSignalled: s.waitObjectsSignalled.Load(),
		PollingShortCircuits: s.pollingShortCircuits.Load(),
	}
}
