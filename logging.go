package hostloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Log categories, attached to every record as the "category" field.
const (
	categoryPoll   = "poll"
	categorySignal = "signal"
	categoryTimer  = "timer"
	categoryAio    = "aio"
	categoryTask   = "task"
)

// diagnosticKey identifies a class of repeated diagnostic for throttling.
type diagnosticKey struct {
	category string
	detail   string
	fd       int
}

type diagnostics struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

func newDiagnostics(logger *logiface.Logger[logiface.Event], rates map[time.Duration]int) (d diagnostics, err error) {
	d.logger = logger
	if len(rates) == 0 {
		return d, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hostloop: diagnostic rate limits: %v", r)
		}
	}()
	d.limiter = catrate.NewLimiter(rates)
	return d, nil
}

// allow reports whether a diagnostic for key may be emitted now. A nil
// limiter allows everything.
func (d *diagnostics) allow(key diagnosticKey) bool {
	if d.logger == nil {
		return false
	}
	_, ok := d.limiter.Allow(key)
	return ok
}

// throttledErr returns an error level builder for category, or nil if the
// diagnostic is throttled. The builder is nil-safe.
func (d *diagnostics) throttledErr(category string, key diagnosticKey) *logiface.Builder[logiface.Event] {
	if !d.allow(key) {
		return nil
	}
	return d.logger.Err().Str("category", category)
}

func (d *diagnostics) warning(category string) *logiface.Builder[logiface.Event] {
	return d.logger.Warning().Str("category", category)
}

func (d *diagnostics) debug(category string) *logiface.Builder[logiface.Event] {
	return d.logger.Debug().Str("category", category)
}

// safeExecute runs fn, recovering and logging any panic, so a single
// misbehaving callback cannot abort the iteration.
func (d *diagnostics) safeExecute(category string, fn func()) {
	if fn == nil {
		return
	}
	if d == nil {
		fn()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Err().
				Str("category", category).
				Err(PanicError{Value: r}).
				Log("callback panicked")
		}
	}()
	fn()
}
