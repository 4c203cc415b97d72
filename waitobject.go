package hostloop

import (
	"slices"

	"github.com/joeycumines/go-hostloop/gmain"
)

// MaxWaitObjects is the capacity of a WaitObjectTable, matching the native
// MAXIMUM_WAIT_OBJECTS limit of a single wait on Windows.
const MaxWaitObjects = 64

// Handle is a native waitable handle. On Windows it is a windows.Handle; the
// hybrid adapter on other platforms treats it as a descriptor to poll for
// readability.
type Handle uintptr

type waitObject struct {
	fn      func()
	handle  Handle
	revents gmain.IOCondition
	removed bool
}

// WaitObjectTable is a bounded, dense table of handles paired with
// callbacks. Removal shifts later entries down.
type WaitObjectTable struct {
	diag    *diagnostics
	stats   *stats
	objects []*waitObject
}

// Add appends a handle and its callback. It returns ErrWaitObjectsFull,
// leaving the table unchanged, if the table is at capacity.
func (t *WaitObjectTable) Add(h Handle, fn func()) error {
	if len(t.objects) >= MaxWaitObjects {
		return ErrWaitObjectsFull
	}
	t.objects = append(t.objects, &waitObject{handle: h, fn: fn})
	return nil
}

// Remove removes the first entry for h, compacting the table.
func (t *WaitObjectTable) Remove(h Handle) {
	for i, o := range t.objects {
		if o.handle == h {
			o.removed = true
			t.objects = slices.Delete(t.objects, i, i+1)
			return
		}
	}
}

// Len returns the number of entries.
func (t *WaitObjectTable) Len() int { return len(t.objects) }

// Handles returns the handles in table order.
func (t *WaitObjectTable) Handles() []Handle {
	handles := make([]Handle, len(t.objects))
	for i, o := range t.objects {
		handles[i] = o.handle
	}
	return handles
}

// AppendPollFDs appends one IOIn record per entry, in table order.
func (t *WaitObjectTable) AppendPollFDs(dst []gmain.PollFD) []gmain.PollFD {
	for _, o := range t.objects {
		dst = append(dst, gmain.PollFD{FD: int(o.handle), Events: gmain.IOIn})
	}
	return dst
}

// Dispatch records the observed events of fds, as produced from
// AppendPollFDs, then invokes the callback of each ready entry in table
// order. Entries removed by an earlier callback are skipped, and the
// remaining entries still fire even though the table was compacted.
func (t *WaitObjectTable) Dispatch(fds []gmain.PollFD) {
	snapshot := slices.Clone(t.objects)
	for i, o := range snapshot {
		if i < len(fds) {
			o.revents = fds[i].Revents
		} else {
			o.revents = 0
		}
	}
	for _, o := range snapshot {
		if o.removed || o.revents == 0 || o.fn == nil {
			continue
		}
		if t.stats != nil {
			t.stats.waitObjectsSignalled.Add(1)
		}
		t.diag.safeExecute(categoryPoll, o.fn)
	}
}
