//go:build linux || darwin

package hostloop

import (
	"github.com/joeycumines/go-hostloop/gmain"
)

// DescriptorAdapter waits on the generic event loop's records and the
// collaborator sets with a single poll(2) call. It is the default on Linux
// and Darwin.
type DescriptorAdapter struct {
	sel selector
}

var _ Adapter = (*DescriptorAdapter)(nil)

// NewDescriptorAdapter returns a new DescriptorAdapter.
func NewDescriptorAdapter() *DescriptorAdapter {
	return &DescriptorAdapter{}
}

// Wait implements Adapter.
func (a *DescriptorAdapter) Wait(req *WaitRequest) int {
	maxPriority, fds, pollTimeout := req.Query()

	for i := range fds {
		req.Sets.Add(fds[i].FD, fds[i].Events&(gmain.IOIn|gmain.IOOut|gmain.IOErr))
	}

	timeout := req.Timeout
	lowerTimeout(&timeout, pollTimeout)

	var (
		ret int
		err error
	)
	req.Unlocked(timeout, func() {
		ret, err = a.sel.selectSets(req.Sets, timeout)
	})

	if err != nil {
		req.logWaitError("select", timeout, err)
		ret = -1
	} else {
		for i := range fds {
			p := &fds[i]
			if p.Events&gmain.IOIn != 0 && req.Sets.Read.IsSet(p.FD) {
				p.Revents |= gmain.IOIn
			}
			if p.Events&gmain.IOOut != 0 && req.Sets.Write.IsSet(p.FD) {
				p.Revents |= gmain.IOOut
			}
			if p.Events&gmain.IOErr != 0 && req.Sets.Except.IsSet(p.FD) {
				p.Revents |= gmain.IOErr
			}
		}
	}

	req.Dispatch(maxPriority, fds)
	return ret
}

func defaultAdapter() Adapter {
	return NewDescriptorAdapter()
}
