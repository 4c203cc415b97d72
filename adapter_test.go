package hostloop

import (
	"testing"
	"time"

	"github.com/joeycumines/go-hostloop/gmain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAdapter wraps another adapter, recording the lock and state
// observed inside the blocking call.
type recordingAdapter struct {
	lock     *countingLock
	reactor  *Reactor
	timeouts []int
	held     []bool
	states   []State
}

func (a *recordingAdapter) Wait(req *WaitRequest) int {
	maxPriority, fds, _ := req.Query()
	a.timeouts = append(a.timeouts, req.Timeout)
	req.Unlocked(req.Timeout, func() {
		a.held = append(a.held, a.lock.held)
		a.states = append(a.states, a.reactor.State())
	})
	req.Dispatch(maxPriority, fds)
	return 0
}

func TestWaitRequest_LockReleasedOnlyWhenBlocking(t *testing.T) {
	lock := new(countingLock)
	a := &recordingAdapter{lock: lock}
	r := newTestReactor(t, WithAdapter(a), WithGlobalLock(lock))
	a.reactor = r

	lock.Lock()
	defer lock.Unlock()

	r.RunIteration(true)
	assert.Equal(t, []int{0}, a.timeouts)
	assert.Equal(t, []bool{true}, a.held)
	assert.Equal(t, []State{StateIterating}, a.states)
	assert.Zero(t, lock.unlocks)
	assert.Zero(t, r.Stats().BlockingWaits)

	r.NewTimer(ClockRealtime, func() {}).ModAfter(time.Hour)
	r.RunIteration(false)
	require.Len(t, a.timeouts, 2)
	assert.Positive(t, a.timeouts[1])
	assert.Equal(t, []bool{true, false}, a.held)
	assert.Equal(t, []State{StateIterating, StateWaiting}, a.states)
	assert.Equal(t, 1, lock.unlocks)
	assert.True(t, lock.held)
	assert.Equal(t, uint64(1), r.Stats().BlockingWaits)
	assert.Equal(t, StateIdle, r.State())
}

func TestWaitRequest_QueryOverflowPanics(t *testing.T) {
	r := newTestReactor(t, WithMaxPollFDs(1))
	n, err := NewEventNotifier(false)
	require.NoError(t, err)
	defer n.Close()

	// the context's own notifier already takes the only record
	r.SetAioEventNotifier(n, func(*EventNotifier) {}, nil)

	assert.PanicsWithError(t, (&PollFDsExceededError{Requested: 2, Capacity: 1}).Error(), func() {
		r.RunIteration(true)
	})
	assert.False(t, r.iterating)
	assert.Equal(t, StateIdle, r.State())

	r.SetAioEventNotifier(n, nil, nil)
	assert.NotPanics(t, func() { r.RunIteration(true) })
}

func TestReactor_MainContextSourcesDispatched(t *testing.T) {
	r := newTestReactor(t)

	holdLock(t, r)
	var dispatched int
	h := r.MainContext().Attach(&gmain.SourceFuncs{
		PrepareFunc: func() (int, bool) { return -1, true },
		DispatchFunc: func() bool {
			dispatched++
			return dispatched < 2
		},
	}, gmain.PriorityHigh)

	r.RunIteration(false)
	r.RunIteration(false)
	assert.Equal(t, 2, dispatched)
	assert.True(t, h.Destroyed())

	r.RunIteration(true)
	assert.Equal(t, 2, dispatched)
}
