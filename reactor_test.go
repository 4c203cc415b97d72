package hostloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_OptionErrors(t *testing.T) {
	for name, opt := range map[string]Option{
		"adapter":      WithAdapter(nil),
		"lock":         WithGlobalLock(nil),
		"main context": WithMainContext(nil),
		"signal table": WithSignalTable(nil),
		"max poll fds": WithMaxPollFDs(0),
		"time source":  WithTimeSource(nil),
		"rate limits":  WithDiagnosticRateLimits(map[time.Duration]int{time.Second: 0}),
	} {
		t.Run(name, func(t *testing.T) {
			r, err := New(opt)
			assert.Error(t, err)
			assert.Nil(t, r)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	r := newTestReactor(t, nil)
	assert.Equal(t, StateIdle, r.State())
	assert.Same(t, DefaultSignals, r.Signals())
	assert.NotNil(t, r.GlobalLock())
	assert.NotNil(t, r.MainContext())
	assert.Equal(t, 1, r.MainContext().Len())
	assert.Len(t, r.scratch, DefaultMaxPollFDs)
	assert.Equal(t, Stats{}, r.Stats())
}

func TestReactor_NonblockingReturnsImmediately(t *testing.T) {
	r := newTestReactor(t)

	start := time.Now()
	assert.Zero(t, r.RunIteration(true))
	assert.Less(t, time.Since(start), time.Second)

	st := r.Stats()
	assert.Equal(t, uint64(1), st.Iterations)
	assert.Zero(t, st.BlockingWaits)
	assert.Equal(t, StateIdle, r.State())
}

func TestReactor_TimerFiresOnceNotEarly(t *testing.T) {
	r := newTestReactor(t)
	holdLock(t, r)

	var fired []time.Time
	start := time.Now()
	tm := r.NewTimer(ClockRealtime, func() { fired = append(fired, time.Now()) })
	tm.Mod(start.Add(10 * time.Millisecond))

	for i := 0; len(fired) == 0; i++ {
		require.Less(t, i, 100, "timer never fired")
		r.RunIteration(false)
	}
	assert.Len(t, fired, 1)
	assert.GreaterOrEqual(t, fired[0].Sub(start), 10*time.Millisecond)
	assert.False(t, tm.Pending())
	assert.Equal(t, uint64(1), r.Stats().TimersFired)

	r.RunIteration(true)
	assert.Len(t, fired, 1)
}

func TestReactor_NotifyUnblocksInfiniteWait(t *testing.T) {
	r := newTestReactor(t)
	holdLock(t, r)

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Notify()
	}()

	start := time.Now()
	r.RunIteration(false)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Equal(t, uint64(1), r.Stats().BlockingWaits)
	assert.Equal(t, uint64(1), r.Stats().Iterations)
}

func TestReactor_LockAvailableWhileWaiting(t *testing.T) {
	r := newTestReactor(t)
	holdLock(t, r)

	acquired := make(chan struct{})
	go func() {
		r.GlobalLock().Lock()
		close(acquired)
		r.GlobalLock().Unlock()
		r.Notify()
	}()

	r.RunIteration(false)
	select {
	case <-acquired:
	default:
		t.Fatal("lock was not released during the blocking wait")
	}
}

func TestReactor_TimerModWakesWait(t *testing.T) {
	r := newTestReactor(t)
	holdLock(t, r)

	var fired bool
	tm := r.NewTimer(ClockRealtime, func() { fired = true })
	armed := make(chan struct{})
	go func() {
		for r.State() != StateWaiting {
			time.Sleep(time.Millisecond)
		}
		r.GlobalLock().Lock()
		tm.Mod(r.Clock(ClockRealtime).Now())
		r.GlobalLock().Unlock()
		close(armed)
	}()

	for i := 0; !fired; i++ {
		require.Less(t, i, 10, "timer never fired")
		r.RunIteration(false)
	}
	<-armed
}

func TestReactor_ReentrantIterationRejected(t *testing.T) {
	buf := new(syncBuffer)
	r := newTestReactor(t, WithLogger(newTestLogger(buf)))

	var nested []int
	r.ScheduleBottomHalf(func() {
		nested = append(nested, r.RunIteration(true))
	})
	r.RunIteration(true)

	assert.Equal(t, []int{-1}, nested)
	assert.Contains(t, buf.String(), ErrReentrantIteration.Error())
}

func TestReactor_CallbackPanicRecovered(t *testing.T) {
	buf := new(syncBuffer)
	r := newTestReactor(t, WithLogger(newTestLogger(buf)))

	var after bool
	r.ScheduleBottomHalf(func() { panic(errors.New("bad callback")) })
	r.ScheduleBottomHalf(func() { after = true })
	r.RunIteration(true)

	assert.True(t, after)
	assert.Contains(t, buf.String(), "bad callback")
}

func TestReactor_CloseFromCallback(t *testing.T) {
	r := newTestReactor(t)

	r.ScheduleBottomHalf(func() {
		require.NoError(t, r.Close())
		assert.NotEqual(t, StateClosed, r.State())
	})
	r.RunIteration(true)

	assert.Equal(t, StateClosed, r.State())
	assert.Equal(t, -1, r.RunIteration(true))
	assert.NotPanics(t, r.Notify)
	assert.ErrorIs(t, r.Run(context.Background()), ErrReactorClosed)
	assert.NoError(t, r.Close())
}

func TestReactor_Run(t *testing.T) {
	r := newTestReactor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.ScheduleBottomHalf(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("bottom half never ran")
	}

	assert.ErrorIs(t, r.Run(ctx), ErrReactorRunning)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateIdle, r.State())
}

func TestReactor_CloseWakesRun(t *testing.T) {
	r := newTestReactor(t)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return r.State() == StateWaiting
	}, 5*time.Second, time.Millisecond)

	r.GlobalLock().Lock()
	assert.NoError(t, r.Close())
	r.GlobalLock().Unlock()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run still blocked after Close")
	}
	assert.Equal(t, StateClosed, r.State())
	assert.Equal(t, -1, r.RunIteration(true))
}

func TestNotify_NilReactor(t *testing.T) {
	var r *Reactor
	assert.NotPanics(t, r.Notify)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Iterating", StateIterating.String())
	assert.Equal(t, "Waiting", StateWaiting.String())
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Unknown", State(99).String())
}
