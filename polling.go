package hostloop

import (
	"slices"
)

// PollingEntry is a registered polling callback, see
// [Reactor.AddPollingCallback].
type PollingEntry struct {
	fn      func() int
	removed bool
}

// PollingList is an insertion-ordered list of polling callbacks. The hybrid
// adapter runs every callback before blocking and skips the wait if any
// reports work.
type PollingList struct {
	diag    *diagnostics
	entries []*PollingEntry
}

// Add appends fn, returning the handle used to remove it.
func (l *PollingList) Add(fn func() int) *PollingEntry {
	e := &PollingEntry{fn: fn}
	l.entries = append(l.entries, e)
	return e
}

// Remove removes e. It is a no-op if e was already removed.
func (l *PollingList) Remove(e *PollingEntry) {
	if e == nil || e.removed {
		return
	}
	e.removed = true
	for i, v := range l.entries {
		if v == e {
			l.entries = slices.Delete(l.entries, i, i+1)
			return
		}
	}
}

// Len returns the number of callbacks.
func (l *PollingList) Len() int { return len(l.entries) }

// Run invokes every callback once, in insertion order, returning the
// bitwise OR of their results. Callbacks removed by an earlier callback in
// the same pass are skipped.
func (l *PollingList) Run() (ret int) {
	if len(l.entries) == 0 {
		return 0
	}
	snapshot := append([]*PollingEntry(nil), l.entries...)
	for _, e := range snapshot {
		if !e.removed {
			l.diag.safeExecute(categoryPoll, func() { ret |= e.fn() })
		}
	}
	return ret
}
