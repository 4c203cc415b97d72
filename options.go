package hostloop

import (
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/go-hostloop/gmain"
	"github.com/joeycumines/logiface"
)

// DefaultMaxPollFDs is the default capacity of the per-iteration scratch
// array for poll records requested by the generic event loop.
const DefaultMaxPollFDs = 1024 * 2

// reactorOptions holds configuration options for Reactor creation.
type reactorOptions struct {
	logger          *logiface.Logger[logiface.Event]
	adapter         Adapter
	lock            sync.Locker
	mainContext     *gmain.Context
	signalTable     *SignalTable
	now             func() time.Time
	diagnosticRates map[time.Duration]int
	maxPollFDs      int
	signalBridge    bool
}

// Option configures a Reactor instance.
type Option interface {
	applyReactor(*reactorOptions) error
}

// reactorOptionImpl implements Option.
type reactorOptionImpl struct {
	applyReactorFunc func(*reactorOptions) error
}

func (r *reactorOptionImpl) applyReactor(opts *reactorOptions) error {
	return r.applyReactorFunc(opts)
}

// WithLogger sets the structured logger. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithAdapter overrides the platform wait adapter.
func WithAdapter(adapter Adapter) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		if adapter == nil {
			return errors.New("hostloop: nil adapter")
		}
		opts.adapter = adapter
		return nil
	}}
}

// WithGlobalLock sets the global emulation lock. The default is a
// *sync.Mutex owned by the reactor.
func WithGlobalLock(lock sync.Locker) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		if lock == nil {
			return errors.New("hostloop: nil global lock")
		}
		opts.lock = lock
		return nil
	}}
}

// WithMainContext sets the generic event loop context the adapter merges
// into each wait. The default is a new context.
func WithMainContext(ctx *gmain.Context) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		if ctx == nil {
			return errors.New("hostloop: nil main context")
		}
		opts.mainContext = ctx
		return nil
	}}
}

// WithSignalBridge enables or disables the signal bridge (enabled by
// default). The bridge blocks its signal set on the reactor thread and
// delivers them through a descriptor, see [SignalTable].
func WithSignalBridge(enabled bool) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		opts.signalBridge = enabled
		return nil
	}}
}

// WithSignalTable sets the table the signal bridge dispatches to. The
// default is [DefaultSignals].
func WithSignalTable(table *SignalTable) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		if table == nil {
			return errors.New("hostloop: nil signal table")
		}
		opts.signalTable = table
		return nil
	}}
}

// WithMaxPollFDs sets the capacity of the poll record scratch array.
// Exceeding it at runtime panics with a *PollFDsExceededError.
func WithMaxPollFDs(n int) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		if n <= 0 {
			return errors.New("hostloop: max poll fds must be positive")
		}
		opts.maxPollFDs = n
		return nil
	}}
}

// WithTimeSource overrides the function used to read the current time, for
// all clocks. It must return times carrying a monotonic reading for the
// realtime and virtual clocks to be monotonic.
func WithTimeSource(now func() time.Time) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		if now == nil {
			return errors.New("hostloop: nil time source")
		}
		opts.now = now
		return nil
	}}
}

// WithDiagnosticRateLimits sets the per-category rate limits applied to
// repeated diagnostics (e.g. a descriptor whose wait keeps failing), in the
// format accepted by catrate.NewLimiter. A nil or empty map disables
// throttling.
func WithDiagnosticRateLimits(rates map[time.Duration]int) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		for d, n := range rates {
			if d <= 0 || n <= 0 {
				return errors.New("hostloop: invalid diagnostic rate limit")
			}
		}
		opts.diagnosticRates = rates
		return nil
	}}
}

// resolveOptions applies Option instances to reactorOptions.
func resolveOptions(opts []Option) (*reactorOptions, error) {
	cfg := &reactorOptions{
		maxPollFDs:   DefaultMaxPollFDs,
		signalBridge: true,
		now:          time.Now,
		diagnosticRates: map[time.Duration]int{
			time.Second: 10,
			time.Minute: 100,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
