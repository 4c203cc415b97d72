package hostloop

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-hostloop/gmain"
)

// Reactor is the host event reactor. Create one with [New], then drive it
// with [Reactor.Run], or call [Reactor.RunIteration] directly while holding
// the global lock.
type Reactor struct {
	state reactorState
	stats stats
	diag  diagnostics

	lock     sync.Locker
	gctx     *gmain.Context
	adapter  Adapter
	aio      *AioContext
	signals  *SignalTable
	bridge   *signalBridge
	clocks   [numClocks]*Clock
	sources  []*ioSourceEntry
	scratch  []gmain.PollFD
	sets     FDSets
	req      WaitRequest
	polling  PollingList
	waitObjs WaitObjectTable

	fdHandlers fdHandlerTable

	running atomic.Bool
	closed  atomic.Bool

	// reactor thread only
	iterating     bool
	bridgeEnabled bool
	bridgeTried   bool
}

type ioSourceEntry struct {
	src     IOSource
	removed bool
}

// New returns a reactor configured by opts. The signal bridge, if enabled,
// is armed by the first iteration, on the thread running it.
func New(opts ...Option) (*Reactor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	r := &Reactor{
		lock:          cfg.lock,
		gctx:          cfg.mainContext,
		adapter:       cfg.adapter,
		signals:       cfg.signalTable,
		scratch:       make([]gmain.PollFD, cfg.maxPollFDs),
		bridgeEnabled: cfg.signalBridge,
	}
	if r.diag, err = newDiagnostics(cfg.logger, cfg.diagnosticRates); err != nil {
		return nil, err
	}
	if r.lock == nil {
		r.lock = new(sync.Mutex)
	}
	if r.gctx == nil {
		r.gctx = gmain.NewContext()
	}
	if r.adapter == nil {
		r.adapter = defaultAdapter()
	}
	if r.signals == nil {
		r.signals = DefaultSignals
	}

	r.fdHandlers.diag = &r.diag
	r.fdHandlers.stats = &r.stats
	r.polling.diag = &r.diag
	r.waitObjs.diag = &r.diag
	r.waitObjs.stats = &r.stats
	r.sets.Reset()

	for k := ClockKind(0); k < numClocks; k++ {
		r.clocks[k] = newClock(r, k, cfg.now)
	}

	if r.aio, err = newAioContext(&r.diag, &r.stats); err != nil {
		return nil, fmt.Errorf("hostloop: aio notifier: %w", err)
	}
	r.aio.attach(r.gctx)

	r.bridge = newSignalBridge(r, r.signals)

	r.diag.debug(categoryTask).
		Int("max_poll_fds", cfg.maxPollFDs).
		Bool("signal_bridge", cfg.signalBridge).
		Log("reactor created")

	return r, nil
}

// Close releases the reactor's resources. Called from a callback, or while
// an iteration is waiting, it wakes the wait and takes effect when the
// current iteration returns, on the iterating thread. Close must be called
// by the global lock holder; once closed, Notify is a no-op and
// RunIteration returns -1.
//
// An armed signal bridge masks signals on the thread that ran the first
// iteration. Called on any other thread while the reactor is idle, Close
// cannot restore that mask, and returns [ErrForeignThread] after releasing
// everything else.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.iterating {
		r.aio.notify()
		return nil
	}
	return r.shutdown()
}

func (r *Reactor) shutdown() error {
	r.state.Store(StateClosed)
	err := r.bridge.disarm()
	if e := r.aio.close(); err == nil {
		err = e
	}
	r.diag.debug(categoryTask).Log("reactor closed")
	return err
}

// Run drives blocking iterations on the calling goroutine, locked to its OS
// thread, until ctx is done or the reactor is closed. It acquires the global
// lock, and releases it on return. Cancelling ctx wakes a blocked iteration.
func (r *Reactor) Run(ctx context.Context) error {
	if r.closed.Load() {
		return ErrReactorClosed
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrReactorRunning
	}
	defer r.running.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.lock.Lock()
	defer r.lock.Unlock()

	// the bridge masks signals on this thread, so undo it before the
	// thread is released
	defer func() {
		if r.bridgeTried && !r.closed.Load() {
			if err := r.bridge.disarm(); err != nil {
				r.diag.warning(categorySignal).Err(err).Log("failed to disarm signal bridge")
			}
			r.bridgeTried = false
		}
	}()

	stop := context.AfterFunc(ctx, r.Notify)
	defer stop()

	for ctx.Err() == nil && !r.closed.Load() {
		r.RunIteration(false)
	}
	return ctx.Err()
}

// RunIteration performs one reactor iteration, see the package
// documentation. If nonblocking, the wait does not block and the global
// lock is not released. The caller must hold the global lock. The result
// is negative if the blocking wait failed, positive if anything was ready,
// and is otherwise only useful for diagnostics.
func (r *Reactor) RunIteration(nonblocking bool) int {
	if r.closed.Load() {
		return -1
	}
	if r.iterating {
		r.diag.throttledErr(categoryTask, diagnosticKey{category: categoryTask, detail: "reentrant", fd: -1}).
			Err(ErrReentrantIteration).
			Log("iteration called from a dispatched callback")
		return -1
	}

	r.iterating = true
	r.state.TryTransition(StateIdle, StateIterating)
	defer func() {
		r.iterating = false
		r.state.TryTransition(StateIterating, StateIdle)
		r.stats.iterations.Add(1)
		if r.closed.Load() {
			if err := r.shutdown(); err != nil {
				r.diag.warning(categoryTask).Err(err).Log("close failed")
			}
		}
	}()

	if r.bridgeEnabled && !r.bridgeTried {
		r.bridgeTried = true
		if err := r.bridge.arm(); err != nil {
			r.diag.throttledErr(categorySignal, diagnosticKey{category: categorySignal, detail: "arm", fd: -1}).
				Err(err).
				Log("failed to arm signal bridge")
		}
	}

	timeout := -1
	if nonblocking {
		timeout = 0
	}

	r.sets.Reset()
	sources := slices.Clone(r.sources)
	for _, e := range sources {
		if !e.removed {
			r.diag.safeExecute(categoryPoll, func() { e.src.Fill(&r.sets, &timeout) })
		}
	}
	r.fdHandlers.Fill(&r.sets, &timeout)
	r.timerTimeout(&timeout)

	r.req = WaitRequest{
		Context:     r.gctx,
		Lock:        r.lock,
		Sets:        &r.sets,
		Polling:     &r.polling,
		WaitObjects: &r.waitObjs,
		Logger:      r.diag.logger,
		Timeout:     timeout,
		reactor:     r,
		scratch:     r.scratch,
	}
	ret := r.adapter.Wait(&r.req)
	failed := ret < 0

	r.fdHandlers.Poll(&r.sets, failed)
	for _, e := range sources {
		if !e.removed {
			r.diag.safeExecute(categoryPoll, func() { e.src.Poll(&r.sets, failed) })
		}
	}

	r.runTimers()

	return ret
}

func (r *Reactor) timerTimeout(timeout *int) {
	for _, c := range r.clocks {
		if d, ok := c.deadline(); ok {
			lowerTimeout(timeout, timeoutMillis(d))
		}
	}
}

func (r *Reactor) runTimers() {
	for _, k := range [...]ClockKind{ClockVirtual, ClockRealtime, ClockHost} {
		if n := r.clocks[k].run(); n > 0 {
			r.stats.timersFired.Add(uint64(n))
		}
	}
}

// kick wakes the reactor if another lock holder changed its deadlines
// while it waits.
func (r *Reactor) kick() {
	if r.state.Load() == StateWaiting {
		r.Notify()
	}
}

// Notify wakes a blocked iteration. It is safe to call from any goroutine,
// on a nil reactor, and after Close.
func (r *Reactor) Notify() {
	if r == nil {
		return
	}
	r.aio.notify()
}

// SetFDHandler registers callbacks for fd, replacing any existing
// registration. onRead is watched only while readPoll is nil or returns
// true. Passing nil for both onRead and onWrite removes the registration.
func (r *Reactor) SetFDHandler(fd int, readPoll func() bool, onRead, onWrite func()) error {
	if fd < 0 {
		return ErrInvalidFD
	}
	if r.closed.Load() {
		return ErrReactorClosed
	}
	r.fdHandlers.set(fd, readPoll, onRead, onWrite)
	return nil
}

// RemoveFDHandler removes the registration for fd. A handler removed during
// dispatch is not invoked again, even later in the same iteration.
func (r *Reactor) RemoveFDHandler(fd int) {
	r.fdHandlers.remove(fd)
}

// AddIOSource registers a collaborator. src must be comparable, typically a
// pointer, for RemoveIOSource.
func (r *Reactor) AddIOSource(src IOSource) {
	r.sources = append(r.sources, &ioSourceEntry{src: src})
}

// RemoveIOSource removes a collaborator added with AddIOSource.
func (r *Reactor) RemoveIOSource(src IOSource) {
	for i, e := range r.sources {
		if e.src == src {
			e.removed = true
			r.sources = slices.Delete(r.sources, i, i+1)
			return
		}
	}
}

// AddPollingCallback registers fn with the hybrid adapter, which runs it
// before every wait and skips the wait if it returns non-zero.
func (r *Reactor) AddPollingCallback(fn func() int) *PollingEntry {
	return r.polling.Add(fn)
}

// RemovePollingCallback removes a polling callback.
func (r *Reactor) RemovePollingCallback(e *PollingEntry) {
	r.polling.Remove(e)
}

// AddWaitObject registers a native handle with the hybrid adapter. It
// returns ErrWaitObjectsFull if MaxWaitObjects are already registered.
func (r *Reactor) AddWaitObject(h Handle, fn func()) error {
	return r.waitObjs.Add(h, fn)
}

// RemoveWaitObject removes the registration for h.
func (r *Reactor) RemoveWaitObject(h Handle) {
	r.waitObjs.Remove(h)
}

// NewBottomHalf returns an unscheduled bottom half running fn on the
// reactor thread.
func (r *Reactor) NewBottomHalf(fn func()) *BottomHalf {
	return r.aio.NewBottomHalf(fn)
}

// ScheduleBottomHalf creates and schedules a bottom half. It is safe to
// call from any goroutine.
func (r *Reactor) ScheduleBottomHalf(fn func()) *BottomHalf {
	b := r.aio.NewBottomHalf(fn)
	b.Schedule()
	return b
}

// Clock returns the clock of the given kind, or nil if kind is invalid.
func (r *Reactor) Clock(kind ClockKind) *Clock {
	if kind < 0 || kind >= numClocks {
		return nil
	}
	return r.clocks[kind]
}

// NewTimer returns an unarmed timer on the given clock.
func (r *Reactor) NewTimer(kind ClockKind, fn func()) *Timer {
	return r.Clock(kind).NewTimer(fn)
}

// AioWait makes progress on the AIO context alone, blocking if requests
// are outstanding, see [AioContext.Poll].
func (r *Reactor) AioWait() bool {
	return r.aio.Poll(true)
}

// SetAioFDHandler registers a descriptor with the AIO context, see
// [AioContext.SetFDHandler].
func (r *Reactor) SetAioFDHandler(fd int, onRead, onWrite func(), flush func() bool) {
	r.aio.SetFDHandler(fd, onRead, onWrite, flush)
}

// SetAioEventNotifier registers a notifier with the AIO context, see
// [AioContext.SetEventNotifier].
func (r *Reactor) SetAioEventNotifier(n *EventNotifier, onRead func(*EventNotifier), flush func(*EventNotifier) bool) {
	r.aio.SetEventNotifier(n, onRead, flush)
}

// Signals returns the table the signal bridge dispatches to.
func (r *Reactor) Signals() *SignalTable { return r.signals }

// Stats returns a snapshot of the reactor counters.
func (r *Reactor) Stats() Stats { return r.stats.snapshot() }

// State returns the current lifecycle state.
func (r *Reactor) State() State { return r.state.Load() }

// GlobalLock returns the global emulation lock.
func (r *Reactor) GlobalLock() sync.Locker { return r.lock }

// MainContext returns the generic event loop context.
func (r *Reactor) MainContext() *gmain.Context { return r.gctx }

// AioContext returns the reactor's AIO context.
func (r *Reactor) AioContext() *AioContext { return r.aio }
