package hostloop

import (
	"sync"

	"github.com/joeycumines/go-hostloop/gmain"
	"github.com/joeycumines/logiface"
)

// Adapter performs the blocking wait of one reactor iteration.
//
// An implementation merges the poll records of the generic event loop
// (Context) with the collaborator descriptor sets (Sets), blocks for at most
// Timeout milliseconds (-1 for no limit) with the global lock released, and
// then dispatches the generic event loop. On return Sets must hold only
// observed readiness. The result is negative if the blocking call failed,
// positive if anything was ready, and zero otherwise.
//
// [WaitRequest.Query], [WaitRequest.Unlocked] and [WaitRequest.Dispatch]
// implement the common steps.
type Adapter interface {
	Wait(req *WaitRequest) int
}

// WaitRequest is the input of one [Adapter.Wait] call. It is only valid for
// the duration of the call.
type WaitRequest struct {
	// Context is the generic event loop to merge and dispatch.
	Context *gmain.Context
	// Lock is the global lock, held by the caller.
	Lock sync.Locker
	// Sets are the collaborator working sets.
	Sets *FDSets
	// Polling are the callbacks the hybrid adapter runs before blocking.
	Polling *PollingList
	// WaitObjects are the native handles the hybrid adapter waits on.
	WaitObjects *WaitObjectTable
	// Logger is the reactor's logger, possibly nil.
	Logger *logiface.Logger[logiface.Event]
	// Timeout is the wait limit in milliseconds, -1 for no limit.
	Timeout int

	reactor *Reactor
	scratch []gmain.PollFD
}

// Query prepares the generic event loop and copies its poll records into
// the reactor's bounded scratch array. It panics with a
// *PollFDsExceededError if the records do not fit.
func (req *WaitRequest) Query() (maxPriority int, fds []gmain.PollFD, timeout int) {
	maxPriority, _ = req.Context.Prepare()
	n, timeout := req.Context.Query(maxPriority, req.scratch)
	if n > len(req.scratch) {
		panic(&PollFDsExceededError{Requested: n, Capacity: len(req.scratch)})
	}
	return maxPriority, req.scratch[:n], timeout
}

// Unlocked runs fn, the blocking call. If timeout is non-zero the global
// lock is released for the duration of fn, and reacquired however fn
// returns. A zero timeout never yields the lock.
func (req *WaitRequest) Unlocked(timeout int, fn func()) {
	if timeout == 0 {
		fn()
		return
	}

	r := req.reactor
	if r != nil {
		r.stats.blockingWaits.Add(1)
		r.state.TryTransition(StateIterating, StateWaiting)
	}
	req.Lock.Unlock()
	defer func() {
		req.Lock.Lock()
		if r != nil {
			r.state.TryTransition(StateWaiting, StateIterating)
		}
	}()

	fn()
}

// Dispatch checks the generic event loop against fds, as returned by Query
// with Revents filled in, and dispatches it if any source is ready.
func (req *WaitRequest) Dispatch(maxPriority int, fds []gmain.PollFD) {
	if req.Context.Check(maxPriority, fds) {
		req.Context.Dispatch()
	}
}

// logWaitError reports a failed multiplex call.
func (req *WaitRequest) logWaitError(call string, timeout int, err error) {
	r := req.reactor
	if r == nil {
		return
	}
	r.stats.waitFailures.Add(1)
	r.diag.throttledErr(categoryPoll, diagnosticKey{category: categoryPoll, detail: call, fd: -1}).
		Str("call", call).
		Int("timeout", timeout).
		Err(err).
		Log("wait failed")
}
