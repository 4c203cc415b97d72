package hostloop

import (
	"github.com/joeycumines/go-hostloop/gmain"
)

// HybridAdapter is the adapter for hosts without descriptor polling. Each
// wait:
//
//  1. runs every polling callback, returning at once if any reports work;
//  2. blocks on the generic event loop's records followed by the wait
//     objects, each watched for IOIn;
//  3. dispatches ready wait objects in table order, then the generic event
//     loop;
//  4. polls the collaborator sets once without blocking, to pick up
//     descriptor readiness without another full iteration.
//
// It is the default on Windows.
type HybridAdapter struct {
	sel    selector
	merged []gmain.PollFD
}

var _ Adapter = (*HybridAdapter)(nil)

// NewHybridAdapter returns a new HybridAdapter.
func NewHybridAdapter() *HybridAdapter {
	return &HybridAdapter{}
}

// Wait implements Adapter. It returns the polling callbacks' status if
// non-zero, -1 if either multiplex call failed, 1 if either reported
// readiness, and 0 otherwise.
func (a *HybridAdapter) Wait(req *WaitRequest) int {
	if req.Polling != nil {
		if ret := req.Polling.Run(); ret != 0 {
			if req.reactor != nil {
				req.reactor.stats.pollingShortCircuits.Add(1)
			}
			req.Sets.Reset()
			return ret
		}
	}

	maxPriority, fds, pollTimeout := req.Query()

	a.merged = append(a.merged[:0], fds...)
	if req.WaitObjects != nil {
		a.merged = req.WaitObjects.AppendPollFDs(a.merged)
	}

	timeout := req.Timeout
	lowerTimeout(&timeout, pollTimeout)

	var (
		pollRet int
		err     error
	)
	req.Unlocked(timeout, func() {
		pollRet, err = pollFDs(a.merged, timeout)
	})
	if err != nil {
		req.logWaitError("poll", timeout, err)
		pollRet = -1
	}

	if pollRet > 0 {
		n := len(fds)
		for i := range fds {
			fds[i].Revents = a.merged[i].Revents
		}
		if req.WaitObjects != nil {
			req.WaitObjects.Dispatch(a.merged[n:])
		}
	}

	req.Dispatch(maxPriority, fds)

	var selectRet int
	if !req.Sets.Empty() {
		selectRet, err = a.sel.selectSets(req.Sets, 0)
		if err != nil {
			req.logWaitError("select", 0, err)
			selectRet = -1
		}
	} else {
		req.Sets.Reset()
	}

	switch {
	case pollRet < 0 || selectRet < 0:
		return -1
	case pollRet > 0 || selectRet > 0:
		return 1
	default:
		return 0
	}
}
